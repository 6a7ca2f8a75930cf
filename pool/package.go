package pool

import (
	"archive/zip"
	"context"
	"io"
	"os"

	deployruntime "github.com/wippyai/deploy-runtime"
	"github.com/wippyai/deploy-runtime/errors"
)

// Package is a zip container of serialized modules and resources. It is
// opened lazily: construction never touches the filesystem.
type Package struct {
	pool   *Pool
	uri    string
	reader deployruntime.ReadAdapter
}

// LoadPackage references a package container on disk.
func (p *Pool) LoadPackage(uri string) *Package {
	return &Package{pool: p, uri: uri}
}

// LoadPackageReader references a package container behind a reader, for
// containers embedded in the binary or fetched from remote storage.
func (p *Pool) LoadPackageReader(r deployruntime.ReadAdapter) *Package {
	return &Package{pool: p, reader: r}
}

// Resources lists the entry names inside the container.
func (pkg *Package) Resources() ([]string, error) {
	var zr *zip.Reader
	switch {
	case pkg.reader != nil:
		r, err := zip.NewReader(pkg.reader, pkg.reader.Size())
		if err != nil {
			return nil, errors.Wrap(errors.PhasePackage, errors.KindInvalidInput, err, "open container")
		}
		zr = r
	default:
		f, err := os.Open(pkg.uri)
		if err != nil {
			return nil, errors.Wrap(errors.PhasePackage, errors.KindNotFound, err, pkg.uri)
		}
		defer f.Close()
		fi, err := f.Stat()
		if err != nil {
			return nil, errors.Wrap(errors.PhasePackage, errors.KindNotFound, err, pkg.uri)
		}
		zr, err = zip.NewReader(f, fi.Size())
		if err != nil {
			return nil, errors.Wrap(errors.PhasePackage, errors.KindInvalidInput, err, "open container")
		}
	}

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names, nil
}

// LoadPickle deserializes module/resource out of the container on a
// balanced instance and returns it as a movable snapshot, ready to
// materialize on any instance in the pool.
func (pkg *Package) LoadPickle(ctx context.Context, module, resource string) (*ReplicatedObject, error) {
	container, err := pkg.bytes()
	if err != nil {
		return nil, err
	}

	s := pkg.pool.AcquireOne()
	defer s.Close()

	load, err := s.Global(ctx, ImporterModule, "load_pickle")
	if err != nil {
		return nil, err
	}
	obj, err := load.Call(ctx, container, module, resource)
	if err != nil {
		return nil, errors.Wrap(errors.PhasePackage, errors.KindEngineFault, err, module+"/"+resource)
	}
	return s.CreateMovable(ctx, obj)
}

func (pkg *Package) bytes() ([]byte, error) {
	if pkg.reader != nil {
		data, err := io.ReadAll(io.NewSectionReader(pkg.reader, 0, pkg.reader.Size()))
		if err != nil {
			return nil, errors.Wrap(errors.PhasePackage, errors.KindInvalidInput, err, "read container")
		}
		return data, nil
	}
	data, err := os.ReadFile(pkg.uri)
	if err != nil {
		return nil, errors.Wrap(errors.PhasePackage, errors.KindNotFound, err, pkg.uri)
	}
	return data, nil
}

// ArgumentNames resolves the parameter names of a method on a replicated
// object. A callable with no parameters yields nil.
func (p *Pool) ArgumentNames(ctx context.Context, r *ReplicatedObject, method string) ([]string, error) {
	s, err := r.AcquireSession(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	fn, err := s.Self.Attr(ctx, method)
	if err != nil {
		return nil, err
	}
	argNames, err := s.Global(ctx, IntrospectModule, "argument_names")
	if err != nil {
		return nil, err
	}
	res, err := argNames.Call(ctx, fn)
	if err != nil {
		return nil, err
	}
	val, err := res.Value(ctx)
	if err != nil {
		return nil, err
	}
	if val == nil {
		return nil, nil
	}
	list, ok := val.([]any)
	if !ok {
		return nil, errors.InvalidInput(errors.PhasePackage, "argument names are not a list")
	}
	names := make([]string, 0, len(list))
	for _, v := range list {
		name, ok := v.(string)
		if !ok {
			return nil, errors.InvalidInput(errors.PhasePackage, "argument name is not a string")
		}
		names = append(names, name)
	}
	return names, nil
}
