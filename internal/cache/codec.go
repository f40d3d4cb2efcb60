package cache

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// minCompressSize is the smallest payload worth compressing.
const minCompressSize = 1024

// codec compresses payloads held in memory. A nil encoder disables
// compression.
type codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newCodec(level int) (*codec, error) {
	c := &codec{}
	if level <= 0 {
		return c, nil
	}

	var err error
	c.encoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	c.decoder, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return c, nil
}

// payload is audio as held by the cache.
type payload struct {
	format     string
	data       []byte
	size       int64
	compressed bool
	silent     bool
}

func (c *codec) encode(clip *Clip) payload {
	if clip == nil {
		return payload{silent: true}
	}
	p := payload{format: clip.Format, data: clip.Audio, size: int64(len(clip.Audio))}
	if c.encoder != nil && len(clip.Audio) > minCompressSize {
		// Only keep the compressed form if it is smaller.
		if z := c.encoder.EncodeAll(clip.Audio, nil); len(z) < len(clip.Audio) {
			p.data = z
			p.compressed = true
		}
	}
	return p
}

func (c *codec) decode(id string, p payload) (*Clip, error) {
	if p.silent {
		return nil, nil
	}
	audio := p.data
	if p.compressed {
		var err error
		audio, err = c.decoder.DecodeAll(p.data, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress %s: %w", id, err)
		}
	}
	return &Clip{ID: id, Format: p.format, Audio: audio}, nil
}

func (c *codec) close() {
	if c.encoder != nil {
		_ = c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}
