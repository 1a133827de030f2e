package wire

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"
)

// Marshal renders the frame as a single XML element.
func Marshal(f *Frame) ([]byte, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	if err := encodeFrame(enc, f); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeFrame(enc *xml.Encoder, f *Frame) error {
	start := xml.StartElement{Name: xml.Name{Local: f.Name}}
	for _, a := range f.Attrs {
		start.Attr = append(start.Attr, xml.Attr{
			Name:  xml.Name{Local: a.Name},
			Value: a.Value,
		})
	}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if f.Text != "" {
		if err := enc.EncodeToken(xml.CharData(f.Text)); err != nil {
			return err
		}
	}
	for _, c := range f.Children {
		if err := encodeFrame(enc, c); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

// Parse decodes a single XML element into a frame. Trailing content after
// the root element is rejected.
func Parse(data []byte) (*Frame, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	var root *Frame
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, Errorf(DomainParse, CodeMalformedXML, "malformed frame: %v", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if root != nil {
				return nil, Errorf(DomainParse, CodeMalformedXML, "trailing content after root element")
			}
			root, err = decodeFrame(dec, t)
			if err != nil {
				return nil, err
			}
		case xml.CharData:
			if root != nil && strings.TrimSpace(string(t)) != "" {
				return nil, Errorf(DomainParse, CodeMalformedXML, "trailing content after root element")
			}
		}
	}
	if root == nil {
		return nil, Errorf(DomainParse, CodeMalformedXML, "frame has no root element")
	}
	return root, nil
}

func decodeFrame(dec *xml.Decoder, start xml.StartElement) (*Frame, error) {
	f := NewFrame(start.Name.Local)
	for _, a := range start.Attr {
		f.Attrs = append(f.Attrs, Attr{Name: a.Name.Local, Value: a.Value})
	}

	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, Errorf(DomainParse, CodeMalformedXML, "malformed frame: %v", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := decodeFrame(dec, t)
			if err != nil {
				return nil, err
			}
			f.Children = append(f.Children, child)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			f.Text = strings.TrimSpace(text.String())
			return f, nil
		}
	}
}
