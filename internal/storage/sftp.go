package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/url"
	"path"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const defaultSSHPort = "22"

// SFTPBackend implements Backend for sftp:// URIs over password-authenticated
// SSH. Every call opens its own connection.
type SFTPBackend struct {
	creds       Credentials
	hostKeys    ssh.HostKeyCallback
	dialTimeout time.Duration
}

// NewSFTPBackend creates a new SFTPBackend. When knownHostsFile is set, server
// keys are verified against it; otherwise any host key is accepted.
func NewSFTPBackend(creds Credentials, knownHostsFile string) (*SFTPBackend, error) {
	// #nosec G106 - host key checking is opt-in through knownHostsFile
	hostKeys := ssh.InsecureIgnoreHostKey()
	if knownHostsFile != "" {
		cb, err := knownhosts.New(knownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("sftp: load known hosts: %w", err)
		}
		hostKeys = cb
	}

	return &SFTPBackend{
		creds:       creds,
		hostKeys:    hostKeys,
		dialTimeout: 30 * time.Second,
	}, nil
}

// sftpSession owns both layers of one connection.
type sftpSession struct {
	ssh  *ssh.Client
	sftp *sftp.Client
}

func (s *sftpSession) Close() error {
	err := s.sftp.Close()
	if cerr := s.ssh.Close(); err == nil {
		err = cerr
	}
	return err
}

func (b *SFTPBackend) connect(ctx context.Context, u *url.URL) (*sftpSession, error) {
	if u.Host == "" || u.Path == "" {
		return nil, fmt.Errorf("%w: expected sftp://host/path", ErrInvalidURI)
	}
	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), defaultSSHPort)
	}

	creds := b.creds.resolve(u)
	cfg := &ssh.ClientConfig{
		User:            creds.User,
		Auth:            []ssh.AuthMethod{ssh.Password(creds.Password)},
		HostKeyCallback: b.hostKeys,
		Timeout:         b.dialTimeout,
	}

	dialer := net.Dialer{Timeout: b.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("sftp: dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sftp: ssh handshake: %w", err)
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, fmt.Errorf("sftp: start subsystem: %w", err)
	}
	return &sftpSession{ssh: sshClient, sftp: client}, nil
}

// Fetch opens the remote file. Closing the returned reader ends the session.
func (b *SFTPBackend) Fetch(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	sess, err := b.connect(ctx, u)
	if err != nil {
		return nil, err
	}

	f, err := sess.sftp.Open(u.Path)
	if err != nil {
		_ = sess.Close()
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, u.Path)
		}
		return nil, fmt.Errorf("sftp: open: %w", err)
	}
	return &sftpReader{File: f, sess: sess}, nil
}

// Store writes data to the remote file, creating parent directories.
func (b *SFTPBackend) Store(ctx context.Context, u *url.URL, data io.Reader) error {
	sess, err := b.connect(ctx, u)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	if err := sess.sftp.MkdirAll(path.Dir(u.Path)); err != nil {
		return fmt.Errorf("sftp: create directory: %w", err)
	}

	f, err := sess.sftp.Create(u.Path)
	if err != nil {
		return fmt.Errorf("sftp: create: %w", err)
	}
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		return fmt.Errorf("sftp: write: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("sftp: close: %w", err)
	}
	return nil
}

// sftpReader closes the remote file, then the session.
type sftpReader struct {
	*sftp.File
	sess *sftpSession
}

func (r *sftpReader) Close() error {
	err := r.File.Close()
	if cerr := r.sess.Close(); err == nil {
		err = cerr
	}
	return err
}
