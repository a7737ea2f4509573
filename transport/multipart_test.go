package transport

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalpost/signalpost-go/core"
)

func TestFlatten(t *testing.T) {
	payload := map[string]interface{}{
		"a": map[string]interface{}{"b": 1},
		"c": []interface{}{1, 2},
	}

	fields := Flatten(payload)

	assert.Equal(t, map[string]string{
		"a.b":  "1",
		"c[0]": "1",
		"c[1]": "2",
	}, fields)
}

func TestFlattenDeepNesting(t *testing.T) {
	payload := map[string]interface{}{
		"a": []interface{}{
			map[string]interface{}{"b": "x"},
			map[string]interface{}{"b": "y"},
		},
		"top":  "value",
		"flag": true,
		"rate": 0.5,
	}

	fields := Flatten(payload)

	assert.Equal(t, "x", fields["a[0].b"])
	assert.Equal(t, "y", fields["a[1].b"])
	assert.Equal(t, "value", fields["top"])
	assert.Equal(t, "true", fields["flag"])
	assert.Equal(t, "0.5", fields["rate"])
}

func TestFlattenNestRoundTrip(t *testing.T) {
	payload := map[string]interface{}{
		"a": map[string]interface{}{"b": "1"},
		"c": []interface{}{"1", "2"},
		"d": map[string]interface{}{
			"list": []interface{}{
				map[string]interface{}{"k": "v"},
			},
		},
	}

	rebuilt := Nest(Flatten(payload))
	assert.Equal(t, payload, rebuilt)
}

func TestCheckFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.bin")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o600))

	assert.NoError(t, CheckFiles([]string{path}))

	err := CheckFiles([]string{filepath.Join(dir, "missing.bin")})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrFileNotFound)
	assert.True(t, core.IsValidation(err))

	// A directory is not a regular file
	err = CheckFiles([]string{dir})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrFileNotFound)
}

func TestEncodeMultipart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.txt")
	require.NoError(t, os.WriteFile(path, []byte("file-contents"), 0o600))

	payload := map[string]interface{}{
		"externalId": "e-1",
		"payload":    map[string]interface{}{"score": 10},
	}

	body, contentType, err := encodeMultipart(payload, []string{path})
	require.NoError(t, err)

	mediaType, params, err := mime.ParseMediaType(contentType)
	require.NoError(t, err)
	require.Equal(t, "multipart/form-data", mediaType)

	reader := multipart.NewReader(bytes.NewReader(body.Bytes()), params["boundary"])
	fields := make(map[string]string)
	var fileName, fileContents string

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(part)
		require.NoError(t, err)

		if part.FormName() == "files" {
			fileName = part.FileName()
			fileContents = string(data)
		} else {
			fields[part.FormName()] = string(data)
		}
	}

	assert.Equal(t, "e-1", fields["externalId"])
	assert.Equal(t, "10", fields["payload.score"])
	assert.Equal(t, "report.txt", fileName)
	assert.Equal(t, "file-contents", fileContents)
}

func TestEncodeMultipartMissingFileFailsFast(t *testing.T) {
	_, _, err := encodeMultipart(map[string]interface{}{"a": 1}, []string{"/does/not/exist"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrFileNotFound)
}
