package intake

import (
	"bytes"
	"compress/zlib"
	"io"
	"regexp"
	"strconv"
)

// Minimal raw PDF object scanner. The gateway never renders or rewrites the
// container; it only needs to locate the clinical payload, either injected
// as a resource stream or attached as an embedded file.

var (
	pdfHeader = []byte("%PDF-")

	objRe      = regexp.MustCompile(`(?s)(\d+)\s+\d+\s+obj\b`)
	endObj     = []byte("endobj")
	streamKW   = []byte("stream")
	endStream  = []byte("endstream")
	fileNameRe = regexp.MustCompile(`/(?:UF|F)\s*\(([^)]*)\)`)
	efRefRe    = regexp.MustCompile(`/EF\s*<<[^>]*?/F\s+(\d+)\s+\d+\s+R`)
)

// IsPDF reports whether the container carries the PDF magic header.
func IsPDF(container []byte) bool {
	return bytes.HasPrefix(container, pdfHeader)
}

type pdfObject struct {
	num    int
	dict   []byte
	stream []byte
}

// scanObjects walks every `N 0 obj ... endobj` body in the container. The
// scan is tolerant: malformed objects are skipped, never fatal, because a
// single damaged object must not block extraction from the rest.
func scanObjects(container []byte) []pdfObject {
	var objects []pdfObject
	for _, loc := range objRe.FindAllSubmatchIndex(container, -1) {
		num, err := strconv.Atoi(string(container[loc[2]:loc[3]]))
		if err != nil {
			continue
		}
		body := container[loc[1]:]
		end := bytes.Index(body, endObj)
		if end < 0 {
			continue
		}
		body = body[:end]

		obj := pdfObject{num: num, dict: body}
		if i := bytes.Index(body, streamKW); i >= 0 {
			obj.dict = body[:i]
			data := body[i+len(streamKW):]
			data = bytes.TrimPrefix(data, []byte("\r"))
			data = bytes.TrimPrefix(data, []byte("\n"))
			if j := bytes.Index(data, endStream); j >= 0 {
				// strip the single EOL preceding the endstream keyword
				data = data[:j]
				data = bytes.TrimSuffix(data, []byte("\n"))
				data = bytes.TrimSuffix(data, []byte("\r"))
				obj.stream = data
			}
		}
		objects = append(objects, obj)
	}
	return objects
}

// decodeStream inflates a FlateDecode stream, or returns the raw bytes when
// no (or an unsupported) filter is declared.
func decodeStream(obj pdfObject) []byte {
	if obj.stream == nil {
		return nil
	}
	if !bytes.Contains(obj.dict, []byte("/FlateDecode")) {
		return obj.stream
	}
	r, err := zlib.NewReader(bytes.NewReader(obj.stream))
	if err != nil {
		return nil
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil && len(out) == 0 {
		return nil
	}
	return out
}

// embeddedFile resolves the embedded-file stream whose file specification
// name equals name. Empty result means no such attachment.
func embeddedFile(container []byte, name string) []byte {
	objects := scanObjects(container)
	byNum := make(map[int]pdfObject, len(objects))
	for _, obj := range objects {
		byNum[obj.num] = obj
	}

	for _, obj := range objects {
		ref := efRefRe.FindSubmatch(obj.dict)
		if ref == nil {
			continue
		}
		fn := fileNameRe.FindSubmatch(obj.dict)
		if fn == nil || string(fn[1]) != name {
			continue
		}
		num, err := strconv.Atoi(string(ref[1]))
		if err != nil {
			continue
		}
		target, ok := byNum[num]
		if !ok {
			continue
		}
		return decodeStream(target)
	}
	return nil
}

// envelopedDocument scans every stream for a clinical document injected as a
// PDF resource and returns the first complete occurrence.
func envelopedDocument(container []byte) []byte {
	const openTag, closeTag = "<ClinicalDocument", "</ClinicalDocument>"
	for _, obj := range scanObjects(container) {
		data := decodeStream(obj)
		if data == nil {
			continue
		}
		start := bytes.Index(data, []byte(openTag))
		if start < 0 {
			continue
		}
		end := bytes.Index(data[start:], []byte(closeTag))
		if end < 0 {
			continue
		}
		return data[start : start+end+len(closeTag)]
	}
	return nil
}
