// Package resource resolves resource locators given as run parameters into readable
// streams. Plain paths and file:// URLs are local files; gs://bucket/object locators are
// read from Google Cloud Storage.
package resource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/tigerroll/parabatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/parabatch/pkg/batch/support/util/logger"
)

const (
	SchemeFile = "file"
	SchemeGCS  = "gs"
)

// Locator is a parsed resource location.
type Locator struct {
	Scheme string
	// Bucket is set for gs:// locators only.
	Bucket string
	Path   string
}

func (l Locator) String() string {
	if l.Scheme == SchemeGCS {
		return fmt.Sprintf("gs://%s/%s", l.Bucket, l.Path)
	}
	return l.Path
}

// ParseLocator accepts "path", "file:///path" and "gs://bucket/object".
func ParseLocator(raw string) (Locator, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Locator{}, errors.New("empty resource locator")
	}
	if !strings.Contains(raw, "://") {
		return Locator{Scheme: SchemeFile, Path: raw}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Locator{}, fmt.Errorf("invalid resource locator %q: %w", raw, err)
	}
	switch u.Scheme {
	case SchemeFile:
		return Locator{Scheme: SchemeFile, Path: u.Path}, nil
	case SchemeGCS:
		object := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || object == "" {
			return Locator{}, fmt.Errorf("invalid gs locator %q: bucket and object are required", raw)
		}
		return Locator{Scheme: SchemeGCS, Bucket: u.Host, Path: object}, nil
	default:
		return Locator{}, fmt.Errorf("unsupported resource scheme %q in %q", u.Scheme, raw)
	}
}

// Opener opens a resource for reading. Failures are ResourceAcquisitionErrors.
type Opener interface {
	Open(ctx context.Context, locator string) (io.ReadCloser, error)
}

// DefaultOpener opens local files directly and creates its storage client on the
// first gs:// locator. It is safe for concurrent use.
type DefaultOpener struct {
	clientOptions []option.ClientOption

	mu     sync.Mutex
	client *storage.Client
}

// NewOpener creates an opener. clientOptions are passed to the storage client.
func NewOpener(clientOptions ...option.ClientOption) *DefaultOpener {
	return &DefaultOpener{clientOptions: clientOptions}
}

// NewOpenerFromCredentials uses a service account key file when credentialsFile is set
// and application default credentials otherwise.
func NewOpenerFromCredentials(credentialsFile string) *DefaultOpener {
	if credentialsFile == "" {
		return NewOpener()
	}
	return NewOpener(option.WithCredentialsFile(credentialsFile))
}

func (o *DefaultOpener) Open(ctx context.Context, raw string) (io.ReadCloser, error) {
	loc, err := ParseLocator(raw)
	if err != nil {
		return nil, exception.NewResourceAcquisitionError("resource", "invalid locator", err)
	}
	switch loc.Scheme {
	case SchemeGCS:
		client, err := o.storageClient(ctx)
		if err != nil {
			return nil, exception.NewResourceAcquisitionError("resource", "failed to create storage client", err)
		}
		r, err := client.Bucket(loc.Bucket).Object(loc.Path).NewReader(ctx)
		if err != nil {
			return nil, exception.NewResourceAcquisitionError("resource", fmt.Sprintf("failed to open %s", loc), err)
		}
		logger.Debugf("Opened %s (%d bytes).", loc, r.Attrs.Size)
		return r, nil
	default:
		f, err := os.Open(loc.Path)
		if err != nil {
			return nil, exception.NewResourceAcquisitionError("resource", fmt.Sprintf("failed to open %s", loc), err)
		}
		return f, nil
	}
}

func (o *DefaultOpener) storageClient(ctx context.Context) (*storage.Client, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.client != nil {
		return o.client, nil
	}
	client, err := storage.NewClient(context.WithoutCancel(ctx), o.clientOptions...)
	if err != nil {
		return nil, err
	}
	o.client = client
	return client, nil
}

// Close releases the storage client, if one was created.
func (o *DefaultOpener) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.client == nil {
		return nil
	}
	err := o.client.Close()
	o.client = nil
	return err
}
