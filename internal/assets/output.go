package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/crc64nvme"
	"github.com/mr-tron/base58"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/appbundle/internal/config"
	"github.com/wolfeidau/appbundle/internal/telemetry"
)

// write stores the assets below the output directory. Files whose checksum
// matches the last write are left alone so watchers of dist are not woken.
func (p *Pipeline) write(ctx context.Context, b *Bundle) ([]OutputFile, error) {
	m := telemetry.GetMetrics()
	files := make([]OutputFile, 0, len(b.Assets))

	for _, asset := range b.Assets {
		dst := filepath.Join(p.cfg.Output.Path, filepath.FromSlash(asset.Name))
		if !config.Within(p.cfg.Output.Path, dst) {
			return nil, fmt.Errorf("asset %q escapes output directory", asset.Name)
		}

		file := OutputFile{Name: asset.Name, Path: dst, Size: len(asset.Contents)}
		sum := computeCRC64(asset.Contents)
		attrs := metric.WithAttributes(attribute.String("ext", path.Ext(asset.Name)))
		m.AssetBytes.Record(ctx, int64(len(asset.Contents)), attrs)

		if prev, ok := p.written[dst]; ok && prev == sum && fileExists(dst) {
			m.AssetsSkippedTotal.Add(ctx, 1, attrs)
			files = append(files, file)
			continue
		}

		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil { //nolint:gosec // G301: served by the dev server
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
		if err := os.WriteFile(dst, asset.Contents, 0o644); err != nil { //nolint:gosec // G306: public build output
			return nil, fmt.Errorf("failed to write %s: %w", asset.Name, err)
		}

		p.written[dst] = sum
		file.Written = true
		m.AssetsWrittenTotal.Add(ctx, 1, attrs)
		p.logger.Debug().Str("file", dst).Int("bytes", file.Size).Msg("Built file")

		files = append(files, file)
	}

	return files, nil
}

// linkSourceMaps moves every map to the configured source map location and
// appends a sourceMappingURL comment to the asset it describes.
func linkSourceMaps(b *Bundle, out config.Output) error {
	for _, asset := range b.Assets {
		if !strings.HasSuffix(asset.Name, ".map") {
			continue
		}

		file := strings.TrimSuffix(asset.Name, ".map")
		name := strings.ReplaceAll(out.SourceMapFilename, "[file]", file)

		contents, err := withSourceRoot(asset.Contents, path.Dir(name), path.Dir(asset.origin))
		if err != nil {
			return fmt.Errorf("failed to relocate source map %s: %w", asset.Name, err)
		}
		asset.Name = name
		asset.Contents = contents

		target := b.Find(file)
		if target == nil {
			continue
		}

		url := out.PublicPath + name
		switch path.Ext(file) {
		case ".js":
			target.Contents = append(target.Contents, []byte("//# sourceMappingURL="+url+"\n")...)
		case ".css":
			target.Contents = append(target.Contents, []byte("/*# sourceMappingURL="+url+" */\n")...)
		}
	}
	return nil
}

// withSourceRoot points the map's relative sources back at the directory
// the map was emitted for.
func withSourceRoot(contents []byte, mapDir, emittedDir string) ([]byte, error) {
	if mapDir == emittedDir {
		return contents, nil
	}

	var sm map[string]json.RawMessage
	if err := json.Unmarshal(contents, &sm); err != nil {
		return nil, err
	}

	rel, err := filepath.Rel(filepath.FromSlash(mapDir), filepath.FromSlash(emittedDir))
	if err != nil {
		return nil, err
	}
	root, err := json.Marshal(filepath.ToSlash(rel) + "/")
	if err != nil {
		return nil, err
	}
	sm["sourceRoot"] = root

	return json.Marshal(sm)
}

// fingerprint is a base58 CRC-64 over every asset name and content.
func fingerprint(b *Bundle) string {
	h := crc64nvme.New()
	for _, a := range b.Assets {
		h.Write([]byte(a.Name))
		h.Write(a.Contents)
	}
	return base58.Encode(h.Sum(nil))
}

// computeCRC64 computes CRC64-NVME checksum
func computeCRC64(data []byte) uint64 {
	h := crc64nvme.New()
	h.Write(data)
	return h.Sum64()
}

func fileExists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}
