// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lightning

// Morton (Z-order) index kernels: bit-interleave/de-interleave, the
// Tropf-Herzog LITMAX/BIGMIN range-search procedure, and an
// upper-triangle next-cell iterator. Ported from original_source's
// Morton.cpp; the five-shift mask cascade and the eight-case LITMAX/BIGMIN
// table are followed exactly, without shortcuts, per spec.md §4.1.

const (
	maskLo32  = 0x00000000FFFFFFFF
	maskShift = 0x0000FFFF0000FFFF
	mask8     = 0x00FF00FF00FF00FF
	mask4     = 0x0F0F0F0F0F0F0F0F
	mask2     = 0x3333333333333333
	mask1     = 0x5555555555555555
)

// splitBits spreads the low 32 bits of value into the even bit
// positions of a 64-bit word.
func splitBits(value uint64) uint64 {
	value &= maskLo32
	value = (value | (value << 16)) & maskShift
	value = (value | (value << 8)) & mask8
	value = (value | (value << 4)) & mask4
	value = (value | (value << 2)) & mask2
	value = (value | (value << 1)) & mask1
	return value
}

// combineBits is the inverse of splitBits: it compacts the bits at even
// positions back into the low 32 bits.
func combineBits(value uint64) uint64 {
	value &= mask1
	value = (value | (value >> 1)) & mask2
	value = (value | (value >> 2)) & mask4
	value = (value | (value >> 4)) & mask8
	value = (value | (value >> 8)) & maskShift
	value = (value | (value >> 16)) & maskLo32
	return value
}

// MortonEncode interleaves x (column) and y (row) into a 64-bit Z code,
// column first: bit 0 of the result is bit 0 of x, bit 1 is bit 0 of y.
func MortonEncode(x, y uint64) uint64 {
	return splitBits(x) | (splitBits(y) << 1)
}

// MortonDecode is the inverse of MortonEncode.
func MortonDecode(z uint64) (x, y uint64) {
	x = combineBits(z)
	y = combineBits(z >> 1)
	return
}

// loadBits overwrites the bits of value below and including bitPosition
// (on the axis identified by dim, 0 = x, 1 = y) with the split encoding
// of bitPattern, leaving higher bits untouched. Direct port of
// Morton.cpp's load_bits.
func loadBits(bitPattern uint64, bitPosition uint32, value uint64, dim uint32) uint64 {
	wipeMask := ^(splitBits(0xffffffff>>(32-(bitPosition/2+1))) << dim)
	bitPattern = splitBits(bitPattern) << dim
	return (value & wipeMask) | bitPattern
}

// litmaxBigminPanic is raised for the two case-table combinations that
// the algorithm considers logically impossible given zMin <= zMax; spec.md
// §4.1 requires these to raise rather than be silently special-cased.
func litmaxBigminPanic(which string) {
	panic(&Error{Kind: ConsistencyViolation, Msg: "impossible case while computing " + which + ": zMin > zMax"})
}

// ComputeBigmin returns the smallest Z inside the rectangle [zMin, zMax]
// that is >= xd, where xd itself lies outside the rectangle.
func ComputeBigmin(xd, zMin, zMax uint64) uint64 {
	var bigmin uint64
	for bitPosition := int32(63); bitPosition >= 0; bitPosition-- {
		mask := uint64(1) << uint(bitPosition)
		zMinBit := zMin & mask
		zMaxBit := zMax & mask
		xdBit := xd & mask
		dim := uint32(bitPosition) % 2
		bitMask := uint64(1) << (uint32(bitPosition) / 2)

		switch {
		case xdBit == 0 && zMinBit == 0 && zMaxBit > 0:
			bigmin = loadBits(bitMask, uint32(bitPosition), zMin, dim)
			zMax = loadBits(bitMask-1, uint32(bitPosition), zMax, dim)
		case xdBit == 0 && zMinBit > 0 && zMaxBit == 0:
			litmaxBigminPanic("BIGMIN")
		case xdBit == 0 && zMinBit > 0 && zMaxBit > 0:
			return zMin
		case xdBit > 0 && zMinBit == 0 && zMaxBit == 0:
			return bigmin
		case xdBit > 0 && zMinBit == 0 && zMaxBit > 0:
			zMin = loadBits(bitMask, uint32(bitPosition), zMin, dim)
		case xdBit > 0 && zMinBit > 0 && zMaxBit == 0:
			litmaxBigminPanic("BIGMIN")
		}
	}
	return bigmin
}

// ComputeLitmax returns the largest Z inside the rectangle [zMin, zMax]
// that is <= xd, where xd itself lies outside the rectangle.
func ComputeLitmax(xd, zMin, zMax uint64) uint64 {
	var litmax uint64
	for bitPosition := int32(63); bitPosition >= 0; bitPosition-- {
		mask := uint64(1) << uint(bitPosition)
		zMinBit := zMin & mask
		zMaxBit := zMax & mask
		xdBit := xd & mask
		dim := uint32(bitPosition) % 2
		bitMask := uint64(1) << (uint32(bitPosition) / 2)

		switch {
		case xdBit == 0 && zMinBit == 0 && zMaxBit > 0:
			zMax = loadBits(bitMask-1, uint32(bitPosition), zMax, dim)
		case xdBit == 0 && zMinBit > 0 && zMaxBit == 0:
			litmaxBigminPanic("LITMAX")
		case xdBit == 0 && zMinBit > 0 && zMaxBit > 0:
			return litmax
		case xdBit > 0 && zMinBit == 0 && zMaxBit == 0:
			return zMax
		case xdBit > 0 && zMinBit == 0 && zMaxBit > 0:
			litmax = loadBits(bitMask-1, uint32(bitPosition), zMax, dim)
			zMin = loadBits(bitMask, uint32(bitPosition), zMin, dim)
		case xdBit > 0 && zMinBit > 0 && zMaxBit == 0:
			litmaxBigminPanic("LITMAX")
		}
	}
	return litmax
}

// ComputeLitmaxBigmin computes both bounds in one pass, as the original
// implementation does when both are needed simultaneously.
func ComputeLitmaxBigmin(xd, zMin, zMax uint64) (litmax, bigmin uint64) {
	for bitPosition := int32(63); bitPosition >= 0; bitPosition-- {
		mask := uint64(1) << uint(bitPosition)
		zMinBit := zMin & mask
		zMaxBit := zMax & mask
		xdBit := xd & mask
		dim := uint32(bitPosition) % 2
		bitMask := uint64(1) << (uint32(bitPosition) / 2)

		stop := false
		switch {
		case xdBit == 0 && zMinBit == 0 && zMaxBit > 0:
			bigmin = loadBits(bitMask, uint32(bitPosition), zMin, dim)
			zMax = loadBits(bitMask-1, uint32(bitPosition), zMax, dim)
		case xdBit == 0 && zMinBit > 0 && zMaxBit == 0:
			litmaxBigminPanic("LITMAX/BIGMIN")
		case xdBit == 0 && zMinBit > 0 && zMaxBit > 0:
			bigmin = zMin
			stop = true
		case xdBit > 0 && zMinBit == 0 && zMaxBit == 0:
			litmax = zMax
			stop = true
		case xdBit > 0 && zMinBit == 0 && zMaxBit > 0:
			litmax = loadBits(bitMask-1, uint32(bitPosition), zMax, dim)
			zMin = loadBits(bitMask, uint32(bitPosition), zMin, dim)
		case xdBit > 0 && zMinBit > 0 && zMaxBit == 0:
			litmaxBigminPanic("LITMAX/BIGMIN")
		}
		if stop {
			break
		}
	}
	return
}

// NextZ advances from zInit to the next Z code whose decoded (x,y)
// satisfies iLo<=x<=iHi, iLo<=y<=iHi and x<=y (upper triangle only),
// skipping runs outside the rectangle via BIGMIN.
func NextZ(iLo, iHi, zMin, zMax, zInit uint64) uint64 {
	z := zInit
	for z <= zMax {
		x, y := MortonDecode(z)
		if x >= iLo && x <= iHi && y >= iLo && y <= iHi {
			if x <= y {
				return z
			}
			z++
			continue
		}
		z = ComputeBigmin(z, zMin, zMax)
	}
	return z
}

// NextZSingleVariant advances from zInit to the next Z code of a cell
// in [iLo,iHi]x[iLo,iHi] where one of x,y equals indexSegment (the
// single-variant query path). Unlike NextZ it walks the x >= y side:
// the cells (indexSegment, y) with y <= indexSegment and
// (x, indexSegment) with x >= indexSegment.
func NextZSingleVariant(indexSegment, iLo, iHi, zMin, zMax, zInit uint64) uint64 {
	z := zInit
	for z <= zMax {
		x, y := MortonDecode(z)
		switch {
		case indexSegment <= iLo:
			if x >= iLo && x <= iHi && indexSegment == y {
				return z
			}
		case indexSegment >= iHi:
			if y >= iLo && y <= iHi && indexSegment == x {
				return z
			}
		default:
			if y >= iLo && y <= indexSegment && x >= indexSegment && x <= iHi {
				if y == indexSegment || x == indexSegment {
					return z
				}
				z++
				continue
			}
		}
		next := ComputeBigmin(z, zMin, zMax)
		if next <= z {
			// BIGMIN found no code above z inside [zMin, zMax]; step
			// forward so the walk cannot wrap back to visited cells.
			next = z + 1
		}
		z = next
	}
	return z
}
