package rtnl

import "golang.org/x/sys/unix"

// putHeader writes a netlink header at the start of b.
func putHeader(b []byte, typ, flags uint16, seq uint32) {
	native.PutUint32(b[0:4], uint32(len(b)))
	native.PutUint16(b[4:6], typ)
	native.PutUint16(b[6:8], flags)
	native.PutUint32(b[8:12], seq)
	native.PutUint32(b[12:16], 0)
}

// linkDumpRequest asks the kernel for every link.
func linkDumpRequest(seq uint32) []byte {
	b := make([]byte, unix.NLMSG_HDRLEN+unix.SizeofIfInfomsg)
	putHeader(b, unix.RTM_GETLINK, unix.NLM_F_REQUEST|unix.NLM_F_DUMP, seq)
	b[unix.NLMSG_HDRLEN] = unix.AF_UNSPEC
	return b
}

// neighDumpRequest asks the kernel for every neighbor entry.
func neighDumpRequest(seq uint32) []byte {
	b := make([]byte, unix.NLMSG_HDRLEN+unix.SizeofNdMsg)
	putHeader(b, unix.RTM_GETNEIGH, unix.NLM_F_REQUEST|unix.NLM_F_DUMP, seq)
	b[unix.NLMSG_HDRLEN] = unix.AF_UNSPEC
	return b
}

// linkGetRequest asks for a single link by name. The kernel answers with
// one RTM_NEWLINK whose change mask is zero and whose header does not carry
// NLM_F_MULTI.
func linkGetRequest(seq uint32, name string) []byte {
	attrLen := unix.SizeofRtAttr + len(name) + 1
	b := make([]byte, unix.NLMSG_HDRLEN+unix.SizeofIfInfomsg+rtaAlign(attrLen))
	putHeader(b, unix.RTM_GETLINK, unix.NLM_F_REQUEST, seq)
	b[unix.NLMSG_HDRLEN] = unix.AF_UNSPEC

	a := b[unix.NLMSG_HDRLEN+unix.SizeofIfInfomsg:]
	native.PutUint16(a[0:2], uint16(attrLen))
	native.PutUint16(a[2:4], unix.IFLA_IFNAME)
	copy(a[unix.SizeofRtAttr:], name)
	return b
}
