// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio

import (
	"fmt"
	"time"

	"github.com/zaf/g711"
)

// =============================================================================
// Payload Formats
// =============================================================================

// Format identifies the on-wire encoding of an audio payload.
type Format string

const (
	// FormatAlaw is ITU-T G.711 A-law, one byte per sample. Asterisk
	// external media and the realtime endpoint both speak it at 8 kHz.
	FormatAlaw Format = "g711_alaw"

	// FormatPCM16 is 16-bit linear PCM, little-endian, two bytes per sample.
	FormatPCM16 Format = "pcm16"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatAlaw:
		return FormatAlaw, nil
	case FormatPCM16:
		return FormatPCM16, nil
	default:
		return "", fmt.Errorf("audio: unknown format %q", s)
	}
}

func (f Format) BytesPerSample() int {
	if f == FormatAlaw {
		return 1
	}
	return 2
}

// FrameBytes is the payload size of one telephony frame of the given
// duration, e.g. 20 ms at 8 kHz is 160 bytes A-law or 320 bytes linear.
func (f Format) FrameBytes(sampleRate int, d time.Duration) int {
	samples := int(time.Duration(sampleRate) * d / time.Second)
	return samples * f.BytesPerSample()
}

// =============================================================================
// Transcoding
// =============================================================================

// ToLinear converts a payload in the given format to 16-bit linear PCM.
// Linear input passes through untouched.
func ToLinear(payload []byte, f Format) []byte {
	if f == FormatAlaw {
		return g711.DecodeAlaw(payload)
	}
	return payload
}

// FromLinear converts 16-bit linear PCM to the given wire format.
func FromLinear(lpcm []byte, f Format) []byte {
	if f == FormatAlaw {
		return g711.EncodeAlaw(lpcm)
	}
	return lpcm
}
