package mimetypes

import "mime"

type MIME string

const (
	Unknown MIME = "unknown"

	ImagePNG  MIME = "image/png"
	ImageJPEG MIME = "image/jpeg"
	ImageGIF  MIME = "image/gif"

	AudioWebM MIME = "audio/webm"
	AudioMP3  MIME = "audio/mp3"
	AudioMPEG MIME = "audio/mpeg"
	AudioWAV  MIME = "audio/wav"

	VideoWebM MIME = "video/webm"
	VideoMP4  MIME = "video/mp4"
)

// Uploadable lists the types accepted as chat attachments.
var Uploadable = []MIME{
	ImageJPEG, ImagePNG, ImageGIF,
	AudioWebM, AudioMP3, AudioMPEG, AudioWAV,
	VideoWebM, VideoMP4,
}

// Matches strips parameters from a detected media type and compares it to expected.
func Matches(detected string, expected MIME) (MIME, bool) {
	mt, _, err := mime.ParseMediaType(detected)
	if err != nil {
		return Unknown, false
	}
	return expected, mt == string(expected)
}

// Allowed returns the first Uploadable entry accepted by is.
// is usually comes from a content sniffer that also knows type aliases.
func Allowed(is func(string) bool) (MIME, bool) {
	for _, m := range Uploadable {
		if is(string(m)) {
			return m, true
		}
	}
	return Unknown, false
}
