package reader

import (
	"bufio"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"github.com/tigerroll/parabatch/pkg/batch/component/resource"
	"github.com/tigerroll/parabatch/pkg/batch/core/application/port"
	"github.com/tigerroll/parabatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/parabatch/pkg/batch/support/util/logger"
)

// XMLFragmentConfig describes a markup resource split into fragments.
type XMLFragmentConfig struct {
	Resource string `mapstructure:"resource"`
	// FragmentRoot is the local name of the element each item is bound from.
	FragmentRoot string `mapstructure:"fragmentRoot"`
}

// XMLFragmentReader streams a document and binds each FragmentRoot element into the
// binding type B with encoding/xml tags, then maps it to T. The document is never held
// in memory as a whole.
type XMLFragmentReader[B, T any] struct {
	name   string
	config XMLFragmentConfig
	opener resource.Opener
	mapper func(B) (T, error)

	rc       io.ReadCloser
	decoder  *xml.Decoder
	fragment int
}

var _ port.ItemReader[struct{}] = (*XMLFragmentReader[struct{}, struct{}])(nil)

func NewXMLFragmentReader[B, T any](name string, config XMLFragmentConfig, opener resource.Opener, mapper func(B) (T, error)) (*XMLFragmentReader[B, T], error) {
	if config.FragmentRoot == "" {
		return nil, exception.NewConfigurationError(name, "xml reader requires a fragment root element", nil)
	}
	if mapper == nil {
		return nil, exception.NewConfigurationError(name, "xml reader requires a mapper", nil)
	}
	return &XMLFragmentReader[B, T]{name: name, config: config, opener: opener, mapper: mapper}, nil
}

func (r *XMLFragmentReader[B, T]) Open(ctx context.Context) error {
	rc, err := r.opener.Open(ctx, r.config.Resource)
	if err != nil {
		return err
	}
	r.rc = rc
	r.decoder = xml.NewDecoder(bufio.NewReader(rc))
	r.fragment = 0
	logger.Debugf("XMLFragmentReader '%s' opened %s (fragment root <%s>).", r.name, r.config.Resource, r.config.FragmentRoot)
	return nil
}

func (r *XMLFragmentReader[B, T]) Read(ctx context.Context) (T, error) {
	var zero T
	if r.decoder == nil {
		return zero, exception.NewSourceReadError(r.name, "reader is not open", nil, false)
	}
	for {
		tok, err := r.decoder.Token()
		if errors.Is(err, io.EOF) {
			return zero, port.ErrNoMoreItems
		}
		if err != nil {
			// The decoder cannot resynchronize after a syntax error.
			return zero, exception.NewSourceReadError(r.name, fmt.Sprintf("unreadable document after fragment %d", r.fragment), err, false)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != r.config.FragmentRoot {
			continue
		}
		r.fragment++

		var binding B
		if err := r.decoder.DecodeElement(&binding, &start); err != nil {
			var syntaxErr *xml.SyntaxError
			return zero, exception.NewSourceReadError(r.name, fmt.Sprintf("malformed fragment %d", r.fragment), err, !errors.As(err, &syntaxErr))
		}
		item, err := r.mapper(binding)
		if err != nil {
			return zero, exception.NewSourceReadError(r.name, fmt.Sprintf("malformed fragment %d", r.fragment), err, true)
		}
		return item, nil
	}
}

func (r *XMLFragmentReader[B, T]) Close(context.Context) error {
	if r.rc == nil {
		return nil
	}
	err := r.rc.Close()
	r.rc = nil
	r.decoder = nil
	return err
}
