package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
)

// serializeProps validates and encodes a prop map. Marker objects are
// outlined to their own rows; values failing validation become null. The
// output map always has the same keys as the input.
func (s *Serializer) serializeProps(props Props) (string, error) {
	if len(props) == 0 {
		return "{}", nil
	}

	out := make(Props, len(props))
	for key, value := range props {
		if r, ok := value.(raw); ok {
			out[key] = r
			continue
		}
		processed, err := s.processPropValue(value)
		if err != nil {
			return "", err
		}
		validated, verrs := validateProp(key, processed)
		if len(verrs) > 0 {
			for _, ve := range verrs {
				s.logger.Error("prop validation error",
					"field", ve.FieldPath, "type", string(ve.Type), "detail", ve.Message)
			}
		}
		out[key] = validated
	}

	return encodeValue(out)
}

// processPropValue rewrites special values inside a prop: numeric specials
// become inline tokens, marker objects are outlined to rows, and embedded
// element tuples are serialized in place.
func (s *Serializer) processPropValue(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return numericSpecial(v), nil
	case *Tree:
		body, err := s.serializeNode(v)
		if err != nil {
			return nil, err
		}
		return raw(body), nil
	case []any:
		if isElementTuple(v) {
			tree, err := FromJSON(v)
			if err == nil {
				body, serr := s.serializeNode(tree)
				if serr != nil {
					return nil, serr
				}
				return raw(body), nil
			}
		}
		processed := make([]any, len(v))
		for i, item := range v {
			p, err := s.processPropValue(item)
			if err != nil {
				return nil, err
			}
			processed[i] = p
		}
		return processed, nil
	case map[string]any:
		return s.processMarkerObject(v)
	default:
		return value, nil
	}
}

func numericSpecial(f float64) any {
	switch {
	case math.IsNaN(f):
		return token(tokenNaN)
	case math.IsInf(f, 1):
		return token(tokenInfinity)
	case math.IsInf(f, -1):
		return token(tokenNegInfinity)
	case f == 0 && math.Signbit(f):
		return token(tokenNegZero)
	default:
		return f
	}
}

// token embeds a serializer-generated reference as pre-quoted JSON so the
// leading-dollar escape never applies to it.
func token(s string) raw {
	data, _ := json.Marshal(s)
	return raw(data)
}

func isElementTuple(arr []any) bool {
	if len(arr) != 4 {
		return false
	}
	marker, ok := arr[0].(string)
	return ok && marker == "$"
}

// processMarkerObject dispatches on the runtime's marker keys. Plain
// objects recurse into their values.
func (s *Serializer) processMarkerObject(obj map[string]any) (any, error) {
	if dateStr, ok := obj["$date"].(string); ok {
		return token(InlineDate(dateStr)), nil
	}
	if bigintStr, ok := obj["$bigint"].(string); ok {
		return token(InlineBigInt(bigintStr)), nil
	}
	if tempRef, ok := obj["$temp"].(string); ok {
		return token(InlineTempRef(tempRef)), nil
	}
	if symbolName, ok := obj["$symbol"].(string); ok {
		return token(InlineSymbol(symbolName)), nil
	}
	if entries, ok := obj["$map"]; ok {
		return s.outlineValue(entries, RefMap)
	}
	if entries, ok := obj["$set"]; ok {
		return s.outlineValue(entries, RefSet)
	}
	if entries, ok := obj["$formdata"]; ok {
		return s.outlineValue(entries, RefFormData)
	}
	if data, ok := obj["$promise"]; ok {
		return s.outlineValue(data, RefPromise)
	}
	if data, ok := obj["$function"]; ok {
		return s.outlineValue(data, RefServerFunction)
	}
	if data, ok := obj["$deferred"]; ok {
		return s.outlineValue(data, RefDeferred)
	}
	if data, ok := obj["$iterator"]; ok {
		return s.outlineValue(data, RefIterator)
	}
	if data, ok := obj["$typedarray"]; ok {
		return s.outlineTypedArray(data)
	}
	if data, ok := obj["$blob"]; ok {
		return s.outlineBlob(data)
	}
	if data, ok := obj["$stream"]; ok {
		return s.outlineStream(data)
	}

	// Extracted elements appear in props as {type, props} objects; encode
	// them as element tuples like any other subtree.
	if typ, ok := obj["type"].(string); ok && typ != "" {
		if _, hasProps := obj["props"]; hasProps {
			tree, err := FromJSON(obj)
			if err == nil {
				body, serr := s.serializeNode(tree)
				if serr != nil {
					return nil, serr
				}
				return raw(body), nil
			}
		}
	}

	processed := make(map[string]any, len(obj))
	for k, v := range obj {
		p, err := s.processPropValue(v)
		if err != nil {
			return nil, err
		}
		processed[k] = p
	}
	return processed, nil
}

// outlineValue allocates a row for the payload and returns the reference
// token built by ref.
func (s *Serializer) outlineValue(payload any, ref func(uint32) string) (any, error) {
	processed, err := s.processPropValue(payload)
	if err != nil {
		return nil, err
	}
	body, err := encodeValue(processed)
	if err != nil {
		return nil, err
	}

	rowID := s.nextRowID()
	s.lines = append(s.lines, fmt.Sprintf("%d:%s", rowID, body))
	return token(ref(rowID)), nil
}

// outlineTypedArray emits a binary row "<tag><len-hex>,<base64>" and returns
// a by-value reference.
func (s *Serializer) outlineTypedArray(data any) (any, error) {
	obj, ok := data.(map[string]any)
	if !ok {
		return nil, nil
	}
	typeName, _ := obj["type"].(string)
	tag, known := typedArrayTags[typeName]
	if !known {
		tag = 'o'
	}

	bytes := byteSlice(obj["data"])
	if bytes == nil {
		return nil, nil
	}

	rowID := s.nextRowID()
	encoded := base64.StdEncoding.EncodeToString(bytes)
	s.lines = append(s.lines, fmt.Sprintf("%d:%c%x,%s", rowID, tag, len(bytes), encoded))
	return token(RefValue(rowID)), nil
}

// outlineBlob emits a ["<mime>","<base64>"] row and returns a $B reference.
func (s *Serializer) outlineBlob(data any) (any, error) {
	obj, ok := data.(map[string]any)
	if !ok {
		return nil, nil
	}
	blobType, _ := obj["type"].(string)
	if blobType == "" {
		blobType = "application/octet-stream"
	}
	bytes := byteSlice(obj["data"])
	if bytes == nil {
		return nil, nil
	}

	rowID := s.nextRowID()
	encoded := base64.StdEncoding.EncodeToString(bytes)
	body, err := encodeValue([]any{blobType, encoded})
	if err != nil {
		return nil, err
	}
	s.lines = append(s.lines, fmt.Sprintf("%d:%s", rowID, body))
	return token(RefBlob(rowID)), nil
}

// outlineStream emits a start tag row (R for object streams, r for byte
// streams), one row per chunk, and a completion row, all sharing the id.
func (s *Serializer) outlineStream(data any) (any, error) {
	obj, ok := data.(map[string]any)
	if !ok {
		return nil, nil
	}
	chunks, ok := obj["chunks"].([]any)
	if !ok {
		return nil, nil
	}
	byteStream, _ := obj["byteStream"].(bool)

	startTag := "R"
	if byteStream {
		startTag = "r"
	}

	rowID := s.nextRowID()
	s.lines = append(s.lines, fmt.Sprintf("%d:%s", rowID, startTag))
	for _, chunk := range chunks {
		processed, err := s.processPropValue(chunk)
		if err != nil {
			return nil, err
		}
		body, err := encodeValue(processed)
		if err != nil {
			return nil, err
		}
		s.lines = append(s.lines, fmt.Sprintf("%d:%s", rowID, body))
	}
	s.lines = append(s.lines, fmt.Sprintf("%d:C", rowID))

	return token(RefValue(rowID)), nil
}

// byteSlice converts a JSON numeric array into bytes.
func byteSlice(v any) []byte {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]byte, 0, len(arr))
	for _, item := range arr {
		if n, ok := item.(float64); ok {
			out = append(out, byte(uint64(n)))
		}
	}
	return out
}
