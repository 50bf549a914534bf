// Package layer bundles on-disk files into OCI layers and drives a
// registry.Client to publish them as a manifest.
//
// Grounded on the push path of the teacher's root Client.Push (single-layer
// eStargz build + registry push), generalized to an ordered set of layers
// of mixed media types. Directory compression uses klauspost/compress's
// gzip (a drop-in, faster replacement for the stdlib package) rather than
// the teacher's estargz builder, since conda metadata tarballs need a plain
// tar+gzip, not a content-addressed chunked image.
package layer

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/condamirror/condamirror/internal/progress"
	"github.com/condamirror/condamirror/internal/registry"
)

// CreationTimeAnnotation is the annotation every layer in a manifest shares,
// recording when the Pusher was created.
const CreationTimeAnnotation = "creationTime"

// CreationTimeLayout is the format used for CreationTimeAnnotation values.
const CreationTimeLayout = "2006.01.02.15.04"

type pendingLayer struct {
	uploadPath string
	cleanup    func()
	mediaType  string
	title      string
	annotations map[string]string
}

// Pusher bundles files for one manifest.
type Pusher struct {
	client      *registry.Client
	repository  string
	stagingDir  string
	created     string
	layers      []pendingLayer
	onLayerByte func(title string, read, total int64)
}

// Option configures a Pusher.
type Option func(*Pusher)

// WithCreationTime overrides the shared creationTime annotation (defaults to
// now, formatted as CreationTimeLayout).
func WithCreationTime(t time.Time) Option {
	return func(p *Pusher) {
		p.created = t.UTC().Format(CreationTimeLayout)
	}
}

// WithByteProgress registers a callback invoked as each layer's blob upload
// streams, reporting bytes sent so far and the layer's total size, alongside
// the layer's title annotation so a caller can attribute progress to a
// specific file.
func WithByteProgress(cb func(title string, read, total int64)) Option {
	return func(p *Pusher) { p.onLayerByte = cb }
}

// NewPusher creates a Pusher that publishes to repository via client.
// stagingDir is used to hold any temporary compressed tarballs AddLayer
// produces for directory inputs.
func NewPusher(client *registry.Client, repository, stagingDir string, opts ...Option) *Pusher {
	p := &Pusher{
		client:     client,
		repository: repository,
		stagingDir: stagingDir,
		created:    time.Now().UTC().Format(CreationTimeLayout),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddLayer records a layer sourced from path. If path is a directory, it is
// compressed to a temporary gzipped tar under the Pusher's staging
// directory; that temporary is kept across Push calls, so the same Pusher
// can push several references, and is removed by Close. Every layer carries
// org.opencontainers.image.title = title (or filepath.Base(path) if title
// is empty) and the shared creationTime annotation.
func (p *Pusher) AddLayer(path, mediaType, title string, annotations map[string]string) error {
	if title == "" {
		title = filepath.Base(path)
	}

	merged := map[string]string{
		ocispec.AnnotationTitle: title,
		CreationTimeAnnotation:  p.created,
	}
	for k, v := range annotations {
		merged[k] = v
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat layer source: %w", err)
	}

	if !info.IsDir() {
		p.layers = append(p.layers, pendingLayer{
			uploadPath:  path,
			mediaType:   mediaType,
			title:       title,
			annotations: merged,
		})
		return nil
	}

	tarPath, err := compressDir(path, p.stagingDir)
	if err != nil {
		return fmt.Errorf("compress %s: %w", path, err)
	}

	p.layers = append(p.layers, pendingLayer{
		uploadPath: tarPath,
		cleanup: func() {
			os.Remove(tarPath)
		},
		mediaType:   mediaType,
		title:       title,
		annotations: merged,
	})
	return nil
}

// Result is the outcome of a successful Push.
type Result struct {
	URI    string
	Layers []ocispec.Descriptor
}

// Push uploads every recorded layer blob, assembles a manifest
// (schemaVersion 2, an empty config blob, layers in AddLayer insertion
// order), and uploads the manifest under reference (a tag). uri is
// repository:reference. Any non-2xx response from the registry fails the
// whole push; layers already uploaded under the same digest are
// idempotent, so a retried Push is safe.
func (p *Pusher) Push(ctx context.Context, reference string) (Result, error) {
	descs := make([]ocispec.Descriptor, 0, len(p.layers))
	for _, l := range p.layers {
		desc, err := p.client.UploadBlob(ctx, p.repository, l.uploadPath, l.mediaType, p.layerProgress(l.title))
		if err != nil {
			return Result{}, fmt.Errorf("upload layer %s: %w", l.title, err)
		}
		desc.Annotations = l.annotations
		descs = append(descs, desc)
	}

	configPath, cleanupConfig, err := writeEmptyConfig(p.stagingDir)
	if err != nil {
		return Result{}, fmt.Errorf("write config blob: %w", err)
	}
	defer cleanupConfig()

	configDesc, err := p.client.UploadBlob(ctx, p.repository, configPath, ocispec.MediaTypeImageConfig)
	if err != nil {
		return Result{}, fmt.Errorf("upload config: %w", err)
	}

	manifest := ocispec.Manifest{
		MediaType: ocispec.MediaTypeImageManifest,
		Config:    configDesc,
		Layers:    descs,
	}

	if err := p.client.UploadManifest(ctx, p.repository, reference, manifest); err != nil {
		return Result{}, fmt.Errorf("upload manifest: %w", err)
	}

	return Result{
		URI:    p.repository + ":" + reference,
		Layers: descs,
	}, nil
}

// layerProgress returns the progress.Callback UploadBlob should drive for the
// layer titled title, or nil if no byte-progress callback was registered.
func (p *Pusher) layerProgress(title string) progress.Callback {
	if p.onLayerByte == nil {
		return nil
	}
	return func(read, total int64) { p.onLayerByte(title, read, total) }
}

// Close removes the temporary tarballs AddLayer created for directory
// layers.
func (p *Pusher) Close() {
	p.cleanupTemps()
}

func (p *Pusher) cleanupTemps() {
	for _, l := range p.layers {
		if l.cleanup != nil {
			l.cleanup()
		}
	}
}

func writeEmptyConfig(stagingDir string) (path string, cleanup func(), err error) {
	f, err := os.CreateTemp(stagingDir, "config-*.json")
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	if _, err := f.WriteString("{}"); err != nil {
		os.Remove(f.Name())
		return "", nil, err
	}

	return f.Name(), func() { os.Remove(f.Name()) }, nil
}

// compressDir tars and gzips the contents of dir into a new temp file
// under tmpRoot, returning its path.
func compressDir(dir, tmpRoot string) (string, error) {
	out, err := os.CreateTemp(tmpRoot, "layer-*.tar.gz")
	if err != nil {
		return "", err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		f, err := os.Open(path) //nolint:gosec // path is produced by filepath.WalkDir over a trusted staging tree
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(tw, f)
		return err
	})
	if walkErr != nil {
		tw.Close()
		gz.Close()
		os.Remove(out.Name())
		return "", walkErr
	}

	if err := tw.Close(); err != nil {
		os.Remove(out.Name())
		return "", err
	}
	if err := gz.Close(); err != nil {
		os.Remove(out.Name())
		return "", err
	}

	return out.Name(), nil
}
