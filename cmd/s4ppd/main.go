// Command s4ppd is a small demo daemon accepting S4PP connections over TCP
// or a Unix socket, persisting committed sequences to per-log directories.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/jmattsson/s4pp"
)

func main() {
	netKind := flag.String("net", "tcp", "listener network: tcp or unix")
	addr := flag.String("addr", ":4151", "listen address (host:port for tcp, path for unix)")
	keyDB := flag.String("keydb", "s4ppd-keys.sqlite", "sqlite database holding keyid -> secret")
	dataDir := flag.String("data", "s4ppd-data", "directory under which each log's samples are stored")
	auditURL := flag.String("audit-url", "", "if set, POST an audit event per commit/reject/nok to this collector")
	maxSamples := flag.Int("max-samples", 0, "reject sequences exceeding this many samples (0 = unlimited)")
	bootstrapKeyID := flag.String("bootstrap-keyid", "", "if set, insert this keyid/secret pair into keydb on startup")
	bootstrapSecret := flag.String("bootstrap-secret", "", "secret for -bootstrap-keyid")
	flag.Parse()

	if err := run(*netKind, *addr, *keyDB, *dataDir, *auditURL, *maxSamples, *bootstrapKeyID, *bootstrapSecret); err != nil {
		fmt.Fprintf(os.Stderr, "s4ppd: %v\n", err)
		os.Exit(1)
	}
}

func run(netKind, addr, keyDB, dataDir, auditURL string, maxSamples int, bootstrapKeyID, bootstrapSecret string) error {
	logger := s4pp.NewSessionLogger(os.Stderr)

	backend, err := s4pp.OpenSQLiteKeyStore(keyDB)
	if err != nil {
		return fmt.Errorf("open key store: %w", err)
	}
	defer backend.Close()

	if bootstrapKeyID != "" {
		if err := backend.Put(bootstrapKeyID, []byte(bootstrapSecret)); err != nil {
			return fmt.Errorf("bootstrap key: %w", err)
		}
	}

	keys, err := s4pp.NewCachingKeyStore(backend, 256)
	if err != nil {
		return fmt.Errorf("wrap key store: %w", err)
	}

	var audit s4pp.AuditExporter = s4pp.NopAuditExporter{}
	if auditURL != "" {
		audit = s4pp.NewHTTPAuditExporter(auditURL)
	}

	ln, err := listen(netKind, addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer ln.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Infof("daemon", "listening net=%s addr=%s", netKind, addr)

	sinks := &sinkPool{dir: dataDir}
	defer sinks.closeAll()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}
		go serve(ctx, conn, keys, sinks, audit, logger, maxSamples)
	}
}

func listen(netKind, addr string) (net.Listener, error) {
	switch netKind {
	case "tcp":
		return net.Listen("tcp", addr)
	case "unix":
		_ = os.Remove(addr)
		return net.Listen("unix", addr)
	default:
		return nil, fmt.Errorf("unknown -net %q (want tcp or unix)", netKind)
	}
}

// sinkPool lazily opens one FileSampleSink per remote address, standing in
// for per-logID routing until a real deployment would key sinks off the
// authenticated keyid instead of the connection's address.
type sinkPool struct {
	mu    sync.Mutex
	dir   string
	sinks map[string]*s4pp.FileSampleSink
}

func (p *sinkPool) get(logID string) (*s4pp.FileSampleSink, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sinks == nil {
		p.sinks = make(map[string]*s4pp.FileSampleSink)
	}
	if sink, ok := p.sinks[logID]; ok {
		return sink, nil
	}
	sink, err := s4pp.OpenFileSampleSink(filepath.Join(p.dir, logID))
	if err != nil {
		return nil, err
	}
	p.sinks[logID] = sink
	return sink, nil
}

func (p *sinkPool) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sink := range p.sinks {
		_ = sink.Close()
	}
}

func serve(ctx context.Context, conn net.Conn, keys s4pp.KeyStore, sinks *sinkPool, audit s4pp.AuditExporter, logger *s4pp.SessionLogger, maxSamples int) {
	defer conn.Close()

	sink, err := sinks.get(filepath.Base(conn.RemoteAddr().String()))
	if err != nil {
		logger.Errorf("daemon", "open sink for %s: %v", conn.RemoteAddr(), err)
		return
	}

	sess := s4pp.NewServerSession(conn, conn, s4pp.ServerConfig{
		MaxSamples: maxSamples,
		KeyStore:   keys,
		Sink:       sink,
		Audit:      audit,
		Logger:     logger,
	})
	if err := sess.Run(ctx); err != nil {
		logger.Warnf("daemon", "session from %s ended: %v", conn.RemoteAddr(), err)
	}
}
