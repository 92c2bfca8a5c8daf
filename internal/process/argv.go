package process

import "pintosgo/internal/common"

// ArgvLayout is the materialized stack image for a process's initial
// argv/argc/fake-return-address block: the bytes to install at Esp on
// the process's first page, per spec.md C8.
type ArgvLayout struct {
	Esp   common.Uaddr_t
	Bytes []byte
}

// BuildArgvStack lays out argv[] and argc below stackTop per the System V
// i386 calling convention a freshly-started Pintos process expects:
// argument strings packed word-aligned just below stackTop (argv[0]
// first, so it ends up at the lowest address), then a NULL-terminated
// argv[] pointer array, then a pointer to argv[0], then argc, then a
// 4-byte fake return address so the entry function's own prologue can
// "return" into it without faulting.
func BuildArgvStack(stackTop common.Uaddr_t, argv []string) ArgvLayout {
	addr := stackTop
	var image []byte

	strAddrs := make([]common.Uaddr_t, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		s := argv[i] + "\x00"
		addr -= common.Uaddr_t(len(s))
		strAddrs[i] = addr
		image = prepend(image, []byte(s))
	}

	if pad := uintptr(addr) % 4; pad != 0 {
		addr -= common.Uaddr_t(pad)
		image = prepend(image, make([]byte, pad))
	}

	ptrs := make([]byte, 0, (len(argv)+1)*4)
	for _, a := range strAddrs {
		ptrs = le32(ptrs, uint32(a))
	}
	ptrs = le32(ptrs, 0) // argv[len(argv)] == NULL
	addr -= common.Uaddr_t(len(ptrs))
	argvArray := addr
	image = prepend(image, ptrs)

	addr -= 4
	image = prepend(image, le32(nil, uint32(argvArray))) // argv

	addr -= 4
	image = prepend(image, le32(nil, uint32(len(argv)))) // argc

	addr -= 4
	image = prepend(image, le32(nil, 0)) // fake return address

	return ArgvLayout{Esp: addr, Bytes: image}
}

func prepend(dst, src []byte) []byte {
	return append(append([]byte{}, src...), dst...)
}

func le32(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
