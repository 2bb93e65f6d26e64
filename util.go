package sros

// clearBytes zero-fills p. The reference allocator does this word-wise then
// byte-wise; the Go compiler lowers the plain zeroing loop below to the
// runtime's memclr, which already does the equivalent, so no manual word
// loop is reproduced here.
func clearBytes(p []byte) {
	for i := range p {
		p[i] = 0
	}
}

// CopyBytes copies min(len(dst), len(src), n) bytes from src to dst and
// returns the number of bytes copied, mirroring the reference kernel's
// copy_bytes(dst, src, n) library function.
func CopyBytes(dst, src []byte, n uint32) uint32 {
	if uint32(len(src)) < n {
		n = uint32(len(src))
	}
	if uint32(len(dst)) < n {
		n = uint32(len(dst))
	}
	copy(dst[:n], src[:n])
	return n
}

// StackUsed counts StackSentinel bytes from the low-address end of stack and
// returns ssize - unused, i.e. the portion of the stack that is no longer
// pristine sentinel fill. A non-sentinel byte at offset 0 is reported as a
// detected overrun via the returned bool.
func StackUsed(stack []byte) (used uint32, overrun bool) {
	if len(stack) == 0 {
		return 0, false
	}
	if stack[0] != StackSentinel {
		return uint32(len(stack)), true
	}
	i := 0
	for i < len(stack) && stack[i] == StackSentinel {
		i++
	}
	return uint32(len(stack) - i), false
}
