/*
NAME
  json.go

DESCRIPTION
  json.go implements the catalogue-facing JSON encoding for a Profile, per
  the source-profile JSON envelope.
*/

package source

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ixlab/vidformer/service"
)

type ratPair [2]int64

func toRatPair(r *big.Rat) ratPair { return ratPair{r.Num().Int64(), r.Denom().Int64()} }

func fromRatPair(p ratPair) *big.Rat { return big.NewRat(p[0], p[1]) }

type jsonProfile struct {
	Name       string              `json:"name"`
	FilePath   string              `json:"file_path"`
	StreamIdx  int                 `json:"stream_idx"`
	Service    service.Descriptor  `json:"service"`
	FileSize   int64               `json:"file_size"`
	Resolution [2]int              `json:"resolution"`
	Codec      string              `json:"codec"`
	PixFmt     string              `json:"pix_fmt"`
	TS         []ratPair           `json:"ts"`
	Keys       []ratPair           `json:"keys"`
}

// MarshalJSON encodes p per the source-profile JSON envelope.
func (p *Profile) MarshalJSON() ([]byte, error) {
	jp := jsonProfile{
		Name:       p.Name,
		FilePath:   p.Path,
		StreamIdx:  p.StreamIdx,
		Service:    p.Service,
		FileSize:   p.FileSize,
		Resolution: [2]int{p.Width, p.Height},
		Codec:      p.Codec,
		PixFmt:     p.PixFmt,
	}
	for _, t := range p.TS {
		jp.TS = append(jp.TS, toRatPair(t))
	}
	for _, k := range p.Keys {
		jp.Keys = append(jp.Keys, toRatPair(k))
	}
	return json.Marshal(jp)
}

// UnmarshalJSON decodes p from the source-profile JSON envelope.
func (p *Profile) UnmarshalJSON(b []byte) error {
	var jp jsonProfile
	if err := json.Unmarshal(b, &jp); err != nil {
		return fmt.Errorf("vidformer: decode source profile: %w", err)
	}
	p.Name = jp.Name
	p.Path = jp.FilePath
	p.StreamIdx = jp.StreamIdx
	p.Service = jp.Service
	p.FileSize = jp.FileSize
	p.Width = jp.Resolution[0]
	p.Height = jp.Resolution[1]
	p.Codec = jp.Codec
	p.PixFmt = jp.PixFmt
	p.TS = make([]*big.Rat, len(jp.TS))
	for i, t := range jp.TS {
		p.TS[i] = fromRatPair(t)
	}
	p.Keys = make([]*big.Rat, len(jp.Keys))
	for i, k := range jp.Keys {
		p.Keys[i] = fromRatPair(k)
	}
	return nil
}
