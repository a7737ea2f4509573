package transport

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/signalpost/signalpost-go/core"
)

// Flatten converts a nested payload into flat form fields.
// Nested objects become dotted key paths (a.b.c), arrays become
// bracket-indexed segments (a[0], a[0].b) and scalar leaves become
// literal form values.
func Flatten(payload map[string]interface{}) map[string]string {
	fields := make(map[string]string)
	for key, value := range payload {
		flattenValue(key, value, fields)
	}
	return fields
}

func flattenValue(prefix string, value interface{}, fields map[string]string) {
	switch v := value.(type) {
	case map[string]interface{}:
		for key, nested := range v {
			flattenValue(prefix+"."+key, nested, fields)
		}
	case []interface{}:
		for i, item := range v {
			flattenValue(fmt.Sprintf("%s[%d]", prefix, i), item, fields)
		}
	default:
		fields[prefix] = formatScalar(v)
	}
}

func formatScalar(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}

var segmentIndex = regexp.MustCompile(`^(.*)\[(\d+)\]$`)

// Nest reconstructs the nested structure from flattened form fields.
// It is the inverse of Flatten over key paths; scalar leaves come back
// as their string form values.
func Nest(fields map[string]string) map[string]interface{} {
	root := make(map[string]interface{})
	// Deterministic order keeps array growth stable
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		nestField(root, key, fields[key])
	}
	return root
}

func nestField(root map[string]interface{}, key, value string) {
	segments := strings.Split(key, ".")
	current := root
	for i, segment := range segments {
		last := i == len(segments)-1

		if m := segmentIndex.FindStringSubmatch(segment); m != nil {
			name := m[1]
			index, _ := strconv.Atoi(m[2])

			arr, _ := current[name].([]interface{})
			for len(arr) <= index {
				arr = append(arr, nil)
			}
			if last {
				arr[index] = value
				current[name] = arr
				return
			}
			child, ok := arr[index].(map[string]interface{})
			if !ok {
				child = make(map[string]interface{})
				arr[index] = child
			}
			current[name] = arr
			current = child
			continue
		}

		if last {
			current[segment] = value
			return
		}
		child, ok := current[segment].(map[string]interface{})
		if !ok {
			child = make(map[string]interface{})
			current[segment] = child
		}
		current = child
	}
}

// CheckFiles verifies every attached path resolves to an existing
// regular file. It runs before any network I/O so a bad path produces
// zero attempts.
func CheckFiles(paths []string) error {
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return &core.Error{
				Op:      "transport.CheckFiles",
				Kind:    core.KindValidation,
				Message: fmt.Sprintf("attached file %q does not exist", path),
				Err:     core.ErrFileNotFound,
			}
		}
		if !info.Mode().IsRegular() {
			return &core.Error{
				Op:      "transport.CheckFiles",
				Kind:    core.KindValidation,
				Message: fmt.Sprintf("attached path %q is not a regular file", path),
				Err:     core.ErrFileNotFound,
			}
		}
	}
	return nil
}

// encodeMultipart writes the flattened payload fields plus one
// files-named part per attached file, streamed from disk and named by
// its base filename. Returns the encoded body and its content type.
func encodeMultipart(payload map[string]interface{}, paths []string) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	fields := Flatten(payload)
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writer.WriteField(name, fields[name]); err != nil {
			return nil, "", &core.Error{Op: "transport.encodeMultipart", Kind: core.KindLocal, Err: err}
		}
	}

	for _, path := range paths {
		if err := writeFilePart(writer, path); err != nil {
			return nil, "", err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", &core.Error{Op: "transport.encodeMultipart", Kind: core.KindLocal, Err: err}
	}
	return body, writer.FormDataContentType(), nil
}

func writeFilePart(writer *multipart.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return &core.Error{
			Op:      "transport.encodeMultipart",
			Kind:    core.KindValidation,
			Message: fmt.Sprintf("attached file %q does not exist", path),
			Err:     core.ErrFileNotFound,
		}
	}
	defer file.Close()

	part, err := writer.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return &core.Error{Op: "transport.encodeMultipart", Kind: core.KindLocal, Err: err}
	}
	if _, err := io.Copy(part, file); err != nil {
		return &core.Error{Op: "transport.encodeMultipart", Kind: core.KindLocal, Err: err}
	}
	return nil
}
