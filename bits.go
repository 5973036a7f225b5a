// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.12
//

package gosdr

// Bit field access on MSB-first byte buffers

func getbitu(buff []byte, pos, length int) uint32 {
	var bits uint32
	for i := pos; i < pos+length; i++ {
		bits = bits<<1 | uint32(buff[i/8]>>(7-i%8)&1)
	}
	return bits
}

func getbits(buff []byte, pos, length int) int32 {
	bits := getbitu(buff, pos, length)
	if length <= 0 || length >= 32 || bits&(1<<(length-1)) == 0 {
		return int32(bits)
	}
	return int32(bits | ^uint32(0)<<length) // Sign extension
}

// getbitu2 reads a field split over two locations, high part first
func getbitu2(buff []byte, p1, l1, p2, l2 int) uint32 {
	return getbitu(buff, p1, l1)<<l2 | getbitu(buff, p2, l2)
}

func getbits2(buff []byte, p1, l1, p2, l2 int) int32 {
	if getbitu(buff, p1, 1) != 0 {
		return int32(uint32(getbits(buff, p1, l1))<<l2 | getbitu(buff, p2, l2))
	}
	return int32(getbitu2(buff, p1, l1, p2, l2))
}

func setbitu(buff []byte, pos, length int, data uint32) {
	for i := 0; i < length; i++ {
		mask := byte(1) << (7 - (pos+i)%8)
		if data>>(length-i-1)&1 != 0 {
			buff[(pos+i)/8] |= mask
		} else {
			buff[(pos+i)/8] &^= mask
		}
	}
}

func setbits(buff []byte, pos, length int, data int32) {
	setbitu(buff, pos, length, uint32(data)&(1<<length-1))
}

// setbitu2 writes a field split over two locations, high part first
func setbitu2(buff []byte, p1, l1, p2, l2 int, data uint32) {
	setbitu(buff, p1, l1, data>>l2)
	setbitu(buff, p2, l2, data&(1<<l2-1))
}

func setbits2(buff []byte, p1, l1, p2, l2 int, data int32) {
	setbitu2(buff, p1, l1, p2, l2, uint32(data)&(1<<(l1+l2)-1))
}
