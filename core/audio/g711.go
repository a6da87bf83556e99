package audio

// G.711 companding. The loop-based segment search mirrors the reference
// tables closely enough for telephony use and keeps the code table-free.

const (
	mulawBias = 0x84
	mulawClip = 32635
	alawClip  = 32635
)

// DecodeMulawSample expands one mu-law byte to a linear sample.
func DecodeMulawSample(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exp := (u >> 4) & 0x07
	mant := u & 0x0F
	value := (int(mant) << 3) + mulawBias
	value <<= uint(exp)
	value -= mulawBias
	if sign != 0 {
		return int16(-value)
	}
	return int16(value)
}

// EncodeMulawSample compresses one linear sample to a mu-law byte.
func EncodeMulawSample(sample int16) byte {
	sign := byte(0)
	s := int(sample)
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias

	exp := byte(7)
	for mask := 0x4000; s&mask == 0 && exp > 0; mask >>= 1 {
		exp--
	}
	mant := byte((s >> (uint(exp) + 3)) & 0x0F)
	return ^(sign | exp<<4 | mant)
}

// DecodeALawSample expands one A-law byte to a linear sample.
func DecodeALawSample(a byte) int16 {
	a ^= 0x55
	sign := a & 0x80
	exp := (a >> 4) & 0x07
	mant := a & 0x0F
	var value int
	if exp != 0 {
		value = (int(mant)<<4 + 0x100) << (exp - 1)
	} else {
		value = (int(mant) << 4) + 8
	}
	if sign != 0 {
		return int16(-value)
	}
	return int16(value)
}

// EncodeALawSample compresses one linear sample to an A-law byte.
func EncodeALawSample(sample int16) byte {
	sign := byte(0)
	if sample < 0 {
		sample = -sample - 1
		sign = 0x80
	}
	if sample > alawClip {
		sample = alawClip
	}
	var comp byte
	if sample >= 256 {
		exp := byte(7)
		for mask := int16(0x4000); sample&mask == 0 && exp > 0; mask >>= 1 {
			exp--
		}
		mant := byte((sample >> (int(exp) + 3)) & 0x0F)
		comp = exp<<4 | mant
	} else {
		comp = byte(sample >> 4)
	}
	comp ^= 0x55
	return comp ^ sign
}

// DecodeMulaw expands a mu-law payload to linear samples.
func DecodeMulaw(data []byte) []int16 {
	samples := make([]int16, len(data))
	for i, b := range data {
		samples[i] = DecodeMulawSample(b)
	}
	return samples
}

// EncodeMulaw compresses linear samples to a mu-law payload.
func EncodeMulaw(samples []int16) []byte {
	data := make([]byte, len(samples))
	for i, s := range samples {
		data[i] = EncodeMulawSample(s)
	}
	return data
}

// DecodeALaw expands an A-law payload to linear samples.
func DecodeALaw(data []byte) []int16 {
	samples := make([]int16, len(data))
	for i, b := range data {
		samples[i] = DecodeALawSample(b)
	}
	return samples
}

// EncodeALaw compresses linear samples to an A-law payload.
func EncodeALaw(samples []int16) []byte {
	data := make([]byte, len(samples))
	for i, s := range samples {
		data[i] = EncodeALawSample(s)
	}
	return data
}
