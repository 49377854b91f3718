// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package audiocodec

// Resample converts mono PCM16 samples from one sample rate to another
// via linear interpolation (§4.1, §8 round-trip bound). Grounded on the
// same interpolation shape as MrWong99-glyphoxa/pkg/audio/convert.go's
// ResampleMono16 — see DESIGN.md's note on tphakala/go-audio-resampler.
func Resample(pcm []int16, fromRate, toRate int) []int16 {
	if fromRate <= 0 || toRate <= 0 || fromRate == toRate || len(pcm) == 0 {
		return pcm
	}

	srcLen := len(pcm)
	dstLen := int(int64(srcLen) * int64(toRate) / int64(fromRate))
	if dstLen <= 0 {
		return nil
	}

	out := make([]int16, dstLen)
	ratio := float64(fromRate) / float64(toRate)
	for i := range out {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		frac := srcPos - float64(idx)

		s0 := pcm[idx]
		s1 := s0
		if idx+1 < srcLen {
			s1 = pcm[idx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}
