// Package audio provides in-memory audio payloads and the capture devices
// that produce them.
package audio

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

const defaultSubtype = "webm"

// Source is an audio payload held in memory for the current session only.
type Source struct {
	Data      []byte
	MediaType string
	// FileName is set when the audio came from a picked file.
	FileName string
}

// Info describes a Source without its payload.
type Info struct {
	FileName  string `json:"file_name,omitempty"`
	MediaType string `json:"media_type"`
	Size      int    `json:"size"`
}

func (s Source) Info() Info {
	return Info{FileName: s.FileName, MediaType: s.MediaType, Size: len(s.Data)}
}

// UploadName is the file name sent with the upload: the original name for
// picked files, otherwise "recording.<subtype>".
func (s Source) UploadName() string {
	if s.FileName != "" {
		return s.FileName
	}
	return "recording." + Subtype(s.MediaType)
}

// Subtype returns the part of a media type after the slash, without
// parameters. "audio/webm;codecs=opus" yields "webm".
func Subtype(mediaType string) string {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		mt = strings.TrimSpace(strings.SplitN(mediaType, ";", 2)[0])
	}
	_, sub, ok := strings.Cut(mt, "/")
	if !ok || sub == "" {
		return defaultSubtype
	}
	return sub
}

// FromFile builds a Source for a picked file. The media type comes from the
// extension, or from sniffing the content when the extension is unknown.
func FromFile(name string, data []byte) Source {
	mediaType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if mediaType == "" {
		mediaType = http.DetectContentType(data)
	}
	return Source{
		Data:      data,
		MediaType: mediaType,
		FileName:  filepath.Base(name),
	}
}
