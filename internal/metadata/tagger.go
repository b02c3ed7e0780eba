package metadata

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Sorrow446/go-mp4tag"
	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
)

// ErrUnsupportedFormat is returned for files the tagger cannot write.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Config contains tagging configuration
type Config struct {
	EmbedArtwork bool
	ArtworkSize  int
}

// TrackMetadata is written into downloaded files.
type TrackMetadata struct {
	Title       string
	Artist      string
	Album       string
	ArtworkData []byte
	ArtworkMIME string
}

// Tagger writes metadata into audio files.
type Tagger struct {
	config Config
}

// NewTagger creates a tagger. A nil config embeds 600px artwork.
func NewTagger(config *Config) *Tagger {
	if config == nil {
		config = &Config{EmbedArtwork: true, ArtworkSize: 600}
	}
	return &Tagger{config: *config}
}

// ArtworkSize returns the configured cover edge length in pixels.
func (t *Tagger) ArtworkSize() int {
	return t.config.ArtworkSize
}

// Supported reports whether path has a format the tagger can write.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3", ".flac", ".m4a", ".mp4":
		return true
	}
	return false
}

// Apply writes md into the file at path.
func (t *Tagger) Apply(path string, md *TrackMetadata) error {
	if md == nil {
		return fmt.Errorf("metadata cannot be nil")
	}
	if !t.config.EmbedArtwork {
		md = &TrackMetadata{Title: md.Title, Artist: md.Artist, Album: md.Album}
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp3":
		return applyMP3(path, md)
	case ".flac":
		return applyFLAC(path, md)
	case ".m4a", ".mp4":
		return applyMP4(path, md)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func applyMP3(path string, md *TrackMetadata) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("failed to open MP3 file: %w", err)
	}
	defer tag.Close()

	tag.SetVersion(4)
	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	if md.Title != "" {
		tag.SetTitle(md.Title)
	}
	if md.Artist != "" {
		tag.SetArtist(md.Artist)
	}
	if md.Album != "" {
		tag.SetAlbum(md.Album)
	}

	if len(md.ArtworkData) > 0 {
		tag.DeleteFrames(tag.CommonID("Attached picture"))
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    mimeOrDefault(md.ArtworkMIME),
			PictureType: id3v2.PTFrontCover,
			Description: "Front Cover",
			Picture:     md.ArtworkData,
		})
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("failed to save MP3 metadata: %w", err)
	}
	return nil
}

func applyFLAC(path string, md *TrackMetadata) error {
	f, err := flac.ParseFile(path)
	if err != nil {
		return fmt.Errorf("failed to parse FLAC file: %w", err)
	}

	var cmtBlock *flac.MetaDataBlock
	for _, block := range f.Meta {
		if block.Type == flac.VorbisComment {
			cmtBlock = block
			break
		}
	}
	var cmt *flacvorbis.MetaDataBlockVorbisComment
	if cmtBlock != nil {
		cmt, err = flacvorbis.ParseFromMetaDataBlock(*cmtBlock)
		if err != nil {
			cmt = flacvorbis.New()
		}
	} else {
		cmt = flacvorbis.New()
		cmtBlock = &flac.MetaDataBlock{Type: flac.VorbisComment}
		f.Meta = append(f.Meta, cmtBlock)
	}

	if md.Title != "" {
		cmt.Add(flacvorbis.FIELD_TITLE, md.Title)
	}
	if md.Artist != "" {
		cmt.Add(flacvorbis.FIELD_ARTIST, md.Artist)
	}
	if md.Album != "" {
		cmt.Add(flacvorbis.FIELD_ALBUM, md.Album)
	}
	res := cmt.Marshal()
	cmtBlock.Data = res.Data

	if len(md.ArtworkData) > 0 {
		meta := f.Meta[:0]
		for _, block := range f.Meta {
			if block.Type != flac.Picture {
				meta = append(meta, block)
			}
		}
		f.Meta = append(meta, &flac.MetaDataBlock{
			Type: flac.Picture,
			Data: flacPictureBlock(md.ArtworkData, mimeOrDefault(md.ArtworkMIME)),
		})
	}

	if err := f.Save(path); err != nil {
		return fmt.Errorf("failed to save FLAC file: %w", err)
	}
	return nil
}

func applyMP4(path string, md *TrackMetadata) error {
	mp4, err := mp4tag.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open MP4 file: %w", err)
	}
	defer mp4.Close()

	tags := &mp4tag.MP4Tags{
		Title:  md.Title,
		Artist: md.Artist,
		Album:  md.Album,
	}
	if len(md.ArtworkData) > 0 {
		tags.Pictures = []*mp4tag.MP4Picture{{Data: md.ArtworkData}}
	}

	if err := mp4.Write(tags, []string{}); err != nil {
		return fmt.Errorf("failed to save MP4 metadata: %w", err)
	}
	return nil
}

// flacPictureBlock encodes a front cover METADATA_BLOCK_PICTURE body.
// Dimensions are left at zero for the decoder to determine.
func flacPictureBlock(image []byte, mimeType string) []byte {
	const description = "Front Cover"
	size := 4 + 4 + len(mimeType) + 4 + len(description) + 16 + 4 + len(image)
	data := make([]byte, 0, size)

	data = appendUint32(data, 3) // front cover
	data = appendUint32(data, uint32(len(mimeType)))
	data = append(data, mimeType...)
	data = appendUint32(data, uint32(len(description)))
	data = append(data, description...)
	data = append(data, make([]byte, 16)...)
	data = appendUint32(data, uint32(len(image)))
	return append(data, image...)
}

func appendUint32(b []byte, v uint32) []byte {
	return append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func mimeOrDefault(mime string) string {
	if mime == "" {
		return "image/jpeg"
	}
	return mime
}
