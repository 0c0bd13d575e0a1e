package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"net/url"
	"path"
	"time"

	"github.com/jlaffaye/ftp"
)

const defaultFTPPort = "21"

// FTPBackend implements Backend for ftp:// URIs. Every call opens its own
// control connection.
type FTPBackend struct {
	creds       Credentials
	dialTimeout time.Duration
}

// NewFTPBackend creates a new FTPBackend. creds are used when the URI has no
// user info; with neither, the anonymous login is used.
func NewFTPBackend(creds Credentials) *FTPBackend {
	return &FTPBackend{creds: creds, dialTimeout: 30 * time.Second}
}

func (b *FTPBackend) connect(ctx context.Context, u *url.URL) (*ftp.ServerConn, error) {
	if u.Host == "" || u.Path == "" {
		return nil, fmt.Errorf("%w: expected ftp://host/path", ErrInvalidURI)
	}
	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), defaultFTPPort)
	}

	conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(b.dialTimeout))
	if err != nil {
		return nil, fmt.Errorf("ftp: dial %s: %w", addr, err)
	}

	creds := b.creds.resolve(u)
	if creds.User == "" {
		creds = Credentials{User: "anonymous", Password: "anonymous"}
	}
	if err := conn.Login(creds.User, creds.Password); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("ftp: login: %w", err)
	}
	return conn, nil
}

// Fetch retrieves the file. Closing the returned reader ends the session.
func (b *FTPBackend) Fetch(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	conn, err := b.connect(ctx, u)
	if err != nil {
		return nil, err
	}

	resp, err := conn.Retr(u.Path)
	if err != nil {
		_ = conn.Quit()
		if isFTPUnavailable(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, u.Path)
		}
		return nil, fmt.Errorf("ftp: retrieve: %w", err)
	}
	return &ftpReader{Response: resp, conn: conn}, nil
}

// Store uploads data, creating the parent directory when missing.
func (b *FTPBackend) Store(ctx context.Context, u *url.URL, data io.Reader) error {
	conn, err := b.connect(ctx, u)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Quit() }()

	// Ignore the error: the directory usually exists already.
	_ = conn.MakeDir(path.Dir(u.Path))

	if err := conn.Stor(u.Path, data); err != nil {
		return fmt.Errorf("ftp: store: %w", err)
	}
	return nil
}

func isFTPUnavailable(err error) bool {
	var tpErr *textproto.Error
	return errors.As(err, &tpErr) && tpErr.Code == ftp.StatusFileUnavailable
}

// ftpReader closes the data connection, then the control connection.
type ftpReader struct {
	*ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpReader) Close() error {
	err := r.Response.Close()
	if qerr := r.conn.Quit(); err == nil {
		err = qerr
	}
	return err
}
