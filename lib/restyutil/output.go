package restyutil

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/afero"
)

// InstrumentOutput receives one dump per http exchange.
type InstrumentOutput interface {
	Write(name string, contents string)
}

// FilesystemOutput writes every dump into its own file under a directory.
type FilesystemOutput struct {
	fs  afero.Fs
	dir string
}

// NewFilesystemOutput empties `dir` on the os filesystem and writes dumps
// into it.
func NewFilesystemOutput(dir string) (FilesystemOutput, error) {
	return NewFilesystemOutputFs(afero.NewOsFs(), dir)
}

func NewFilesystemOutputFs(fs afero.Fs, dir string) (FilesystemOutput, error) {
	if err := fs.RemoveAll(dir); err != nil {
		return FilesystemOutput{}, err
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return FilesystemOutput{}, err
	}
	return FilesystemOutput{fs: fs, dir: dir}, nil
}

func (o FilesystemOutput) Write(name string, contents string) {
	err := afero.WriteFile(o.fs, path.Join(o.dir, name), []byte(contents), 0o600)
	if err != nil {
		slog.Warn("failed to write http dump", "name", name, "err", err)
	}
}

type dumpNameKey struct{}

// dumpName is "<seq>-<method>-<path>.txt" with the path flattened, so the
// dumps of a session sort in the order they were sent.
func dumpName(seq uint64, req *resty.Request) string {
	route := req.URL
	if req.RawRequest != nil && req.RawRequest.URL != nil {
		route = req.RawRequest.URL.Path
	} else if i := strings.IndexAny(route, "?#"); i >= 0 {
		route = route[:i]
	}
	route = strings.Trim(route, "/")
	route = strings.NewReplacer("/", "_", ":", "_").Replace(route)
	if route == "" {
		route = "root"
	}
	return fmt.Sprintf("%04d-%s-%s.txt", seq, strings.ToLower(req.Method), route)
}

// InstrumentClient dumps every exchange made by `client` into `output`,
// a nil output leaves the client alone.
func InstrumentClient(client *resty.Client, output InstrumentOutput) {
	if output == nil {
		return
	}
	var seq atomic.Uint64
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		req.SetContext(context.WithValue(req.Context(), dumpNameKey{}, seq.Add(1)))
		return nil
	})
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		n, ok := res.Request.Context().Value(dumpNameKey{}).(uint64)
		if !ok {
			return nil
		}
		output.Write(dumpName(n, res.Request), Dump(res))
		return nil
	})
}
