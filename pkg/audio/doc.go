// Package audio provides the PCM primitives the pipeline is built on:
// 16-bit mono clips, WAV encode/decode, sample-rate conversion, and the
// RMS/pitch window math used by silence detection and diarization.
//
// Example usage:
//
//	clip, err := audio.DecodeWAV(data)
//	if err != nil {
//	    return err
//	}
//	out, err := audio.Resample(clip, 24000)
//	if err != nil {
//	    return err
//	}
//	wav := audio.EncodeWAV(out)
package audio
