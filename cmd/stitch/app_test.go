// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

func TestWithin(t *testing.T) {
	t.Parallel()

	root := filepath.Join(string(filepath.Separator), "work", "app")
	tests := []struct {
		name   string
		path   string
		want   string
		inside bool
	}{
		{name: "nested", path: filepath.Join(root, "app", "app.js"), want: "app/app.js", inside: true},
		{name: "root itself", path: root, want: ".", inside: true},
		{name: "sibling", path: filepath.Join(root, "..", "other"), inside: false},
		{name: "dotdot prefix name", path: filepath.Join(root, "..foo"), want: "..foo", inside: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := within(root, tt.path)
			assert.Equal(t, tt.inside, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRelToRootAndUnderRoot(t *testing.T) {
	t.Parallel()

	root := filepath.Join(string(filepath.Separator), "work", "app")
	outside := filepath.Join(string(filepath.Separator), "elsewhere", "x.js")

	assert.Equal(t, "dist/index.html", relToRoot(root, filepath.Join(root, "dist", "index.html")))
	assert.Equal(t, outside, relToRoot(root, outside))

	assert.Equal(t, filepath.Join(root, "lib", "engine"), underRoot(root, "lib/engine"))
	assert.Equal(t, outside, underRoot(root, outside))
}

func TestTemplateModuleName(t *testing.T) {
	t.Parallel()

	root := filepath.Join(string(filepath.Separator), "work", "app")
	tests := []struct {
		name string
		file string
		want string
	}{
		{
			name: "app tree",
			file: filepath.Join(root, "app", "components", "hello.hbs"),
			want: "my-app/components/hello",
		},
		{
			name: "root tree",
			file: filepath.Join(root, "tests", "dummy.hbs"),
			want: "my-app/tests/dummy",
		},
		{
			name: "outside",
			file: filepath.Join(string(filepath.Separator), "tmp", "loose.hbs"),
			want: filepath.ToSlash(filepath.Join(string(filepath.Separator), "tmp", "loose")),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, templateModuleName(root, "my-app", tt.file))
		})
	}
}

func TestReadFindings(t *testing.T) {
	t.Parallel()

	t.Run("bare array", func(t *testing.T) {
		t.Parallel()

		findings, err := readFindings(strings.NewReader(`
  [{"filename":"./app.js","message":"missing export","detail":"x"}]`))
		require.NoError(t, err)
		require.Len(t, findings, 1)
		assert.Equal(t, "./app.js", findings[0].Filename)
	})

	t.Run("full result", func(t *testing.T) {
		t.Parallel()

		findings, err := readFindings(strings.NewReader(
			`{"modules":{},"findings":[{"filename":"./a.js","message":"m","detail":"d"}],"summary":{}}`))
		require.NoError(t, err)
		require.Len(t, findings, 1)
		assert.Equal(t, "m", findings[0].Message)
	})

	t.Run("empty input", func(t *testing.T) {
		t.Parallel()

		_, err := readFindings(strings.NewReader("  \n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decode findings")
	})
}

func TestWriteMetrics(t *testing.T) {
	t.Parallel()

	families := []*dto.MetricFamily{
		{
			Name: proto.String("stitch_resolutions_total"),
			Metric: []*dto.Metric{
				{
					Label:   []*dto.LabelPair{{Name: proto.String("outcome"), Value: proto.String("found")}},
					Counter: &dto.Counter{Value: proto.Float64(3)},
				},
				{
					Label:   []*dto.LabelPair{{Name: proto.String("outcome"), Value: proto.String("external")}},
					Counter: &dto.Counter{Value: proto.Float64(1)},
				},
			},
		},
	}

	var buf bytes.Buffer
	writeMetrics(&buf, families)
	out := buf.String()
	assert.Contains(t, out, "stitch_resolutions_total{outcome=found} 3")
	assert.Less(t,
		strings.Index(out, "{outcome=external}"),
		strings.Index(out, "{outcome=found}"),
		"lines are sorted")
}

func TestFormatSize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "512 B", formatSize(512))
	assert.Equal(t, "2.0 KiB", formatSize(2048))
	assert.Equal(t, "1.5 MiB", formatSize(3<<19))
}
