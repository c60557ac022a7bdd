// Package classad parses the XML ClassAd listings emitted by the
// HTCondor status tools into keyed attribute maps.
package classad

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// UnknownAttr is the attribute name used when an <a> element carries
// no n property.
const UnknownAttr = "Unknown"

// Ad is one ClassAd: attribute name to raw text value. Numeric
// interpretation is left to the consumer.
type Ad map[string]string

// Table maps the value of the index attribute to its Ad.
type Table map[string]Ad

// Config selects how a Parser keys and filters the ads it reads.
// IndexAttr names the attribute whose value keys the Table. Attrs is
// an optional allow-list; when non-empty only listed attributes are
// retained, and IndexAttr is retained implicitly.
type Config struct {
	IndexAttr string
	Attrs     []string
}

// Parser reads the two-level <c>/<a> ClassAd XML shape in one forward
// pass. Configuration is fixed at construction; Parse carries no state
// across calls.
type Parser struct {
	indexAttr string
	keep      map[string]struct{}
}

// New builds a Parser from cfg.
// Params: cfg index attribute name and optional attribute allow-list.
// Returns: configured parser or error when no index attribute is given.
func New(cfg Config) (*Parser, error) {
	if strings.TrimSpace(cfg.IndexAttr) == "" {
		return nil, fmt.Errorf("classad: index attribute cannot be empty")
	}

	var keep map[string]struct{}
	if len(cfg.Attrs) > 0 {
		keep = make(map[string]struct{}, len(cfg.Attrs)+1)
		for _, name := range cfg.Attrs {
			keep[name] = struct{}{}
		}
		keep[cfg.IndexAttr] = struct{}{}
	}

	return &Parser{indexAttr: cfg.IndexAttr, keep: keep}, nil
}

// parseState tracks position in the two-level record shape.
type parseState uint8

const (
	stateDocument parseState = iota
	stateAd
	stateAttr
)

// Parse consumes one ClassAd XML stream and returns the ads keyed by
// the index attribute. Ads whose index attribute is absent or empty
// are dropped; duplicate keys overwrite (last write wins). Malformed
// XML fails the whole call with no partial result.
// Params: r provides the XML byte stream.
// Returns: table of parsed ads or decode error.
func (p *Parser) Parse(r io.Reader) (Table, error) {
	dec := xml.NewDecoder(r)
	table := make(Table)

	state := stateDocument
	var (
		cur      Ad
		attrName string
		text     strings.Builder
	)

	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return table, nil
			}
			return nil, fmt.Errorf("decode classad stream: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "c":
				cur = make(Ad)
				state = stateAd
			case "a":
				if state == stateAd {
					attrName = xmlAttr(t, "n", UnknownAttr)
					text.Reset()
					state = stateAttr
				}
			}
			// Typed value wrappers (<s>, <i>, <r>, <b>, <e>) and
			// anything else pass through; their character data still
			// accumulates while inside an attribute.

		case xml.EndElement:
			switch t.Name.Local {
			case "a":
				if state == stateAttr {
					if p.retains(attrName) {
						cur[attrName] = text.String()
					}
					text.Reset()
					state = stateAd
				}
			case "c":
				if state != stateDocument {
					if idx := cur[p.indexAttr]; idx != "" {
						table[idx] = cur
					}
					cur = nil
					state = stateDocument
				}
			}

		case xml.CharData:
			if state == stateAttr {
				text.Write(t)
			}
		}
	}
}

// retains reports whether an attribute name passes the allow-list.
func (p *Parser) retains(name string) bool {
	if p.keep == nil {
		return true
	}
	_, ok := p.keep[name]
	return ok
}

// xmlAttr returns the named XML attribute of el, or fallback when the
// attribute is missing.
func xmlAttr(el xml.StartElement, name, fallback string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return fallback
}
