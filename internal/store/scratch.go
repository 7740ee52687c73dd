package store

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// dropTimeout bounds the teardown of a disposable database. Teardown runs on a
// context detached from the caller's cancellation.
const dropTimeout = 2 * time.Minute

// ScratchStore provisions disposable databases for restore testing. Its Pool
// must point at a maintenance database the role can CREATE DATABASE from.
type ScratchStore struct {
	Base
}

// NewScratchStore creates a ScratchStore over an admin pool.
func NewScratchStore(base Base) *ScratchStore {
	return &ScratchStore{Base: base}
}

// ScratchDB is one disposable database and a connection to it.
type ScratchDB struct {
	Name string
	conn *pgx.Conn
}

// Create makes a new empty database named prefix_<random> and connects to it.
// The database is dropped again if the connection fails.
func (s *ScratchStore) Create(ctx context.Context, prefix string) (*ScratchDB, error) {
	name := prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]

	cctx, cancel := withTimeout(ctx)
	defer cancel()

	if _, err := s.Pool.Exec(cctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize()); err != nil {
		return nil, fmt.Errorf("creating scratch database: %w", err)
	}

	cfg, err := pgx.ParseConfig(s.Pool.ConnString())
	if err == nil {
		cfg.Database = name

		var conn *pgx.Conn

		conn, err = pgx.ConnectConfig(cctx, cfg)
		if err == nil {
			s.Log.WithField("database", name).Info("scratch database created")

			return &ScratchDB{Name: name, conn: conn}, nil
		}
	}

	if dropErr := s.dropDatabase(ctx, name); dropErr != nil {
		err = errors.Join(err, dropErr)
	}

	return nil, fmt.Errorf("connecting to scratch database: %w", err)
}

// Drop closes the connection and drops the database, terminating any other
// sessions still attached. It runs even when ctx is already cancelled.
func (s *ScratchStore) Drop(ctx context.Context, db *ScratchDB) error {
	if db == nil {
		return nil
	}

	if db.conn != nil {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		db.conn.Close(cctx) //nolint:errcheck,gosec // the database is dropped next.
		cancel()
	}

	return s.dropDatabase(ctx, db.Name)
}

func (s *ScratchStore) dropDatabase(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dropTimeout)
	defer cancel()

	if _, err := s.Pool.Exec(ctx, "DROP DATABASE IF EXISTS "+pgx.Identifier{name}.Sanitize()+" WITH (FORCE)"); err != nil {
		s.Log.WithError(err).WithField("database", name).Error("dropping scratch database failed")

		return fmt.Errorf("dropping scratch database %s: %w", name, err)
	}

	s.Log.WithField("database", name).Info("scratch database dropped")

	return nil
}

// Replay executes a plain SQL dump: statements are sent through the simple
// protocol and "COPY ... FROM stdin;" blocks are streamed with the COPY
// protocol up to their "\." terminator. psql meta-commands are ignored.
func (d *ScratchDB) Replay(ctx context.Context, r io.Reader) error {
	br := bufio.NewReaderSize(r, 1<<20)

	var stmt strings.Builder

	flush := func() error {
		sql := strings.TrimSpace(stmt.String())
		stmt.Reset()

		if sql == "" {
			return nil
		}

		if _, err := d.conn.PgConn().Exec(ctx, sql).ReadAll(); err != nil {
			return fmt.Errorf("replaying statements: %w", err)
		}

		return nil
	}

	for {
		line, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading dump: %w", err)
		}

		switch {
		case isCopyFromStdin(line):
			if ferr := flush(); ferr != nil {
				return ferr
			}

			if cerr := d.copyBlock(ctx, strings.TrimSpace(line), br); cerr != nil {
				return cerr
			}
		case strings.HasPrefix(line, `\`):
		default:
			stmt.WriteString(line)
		}

		if errors.Is(err, io.EOF) {
			break
		}
	}

	if err := flush(); err != nil {
		return err
	}

	// pg_dump empties search_path for its own session.
	if _, err := d.conn.Exec(ctx, "RESET ALL"); err != nil {
		return fmt.Errorf("resetting session after replay: %w", err)
	}

	return nil
}

func (d *ScratchDB) copyBlock(ctx context.Context, copySQL string, br *bufio.Reader) error {
	pr, pw := io.Pipe()
	done := make(chan struct{})

	go func() {
		defer close(done)

		for {
			line, err := br.ReadString('\n')
			if strings.TrimRight(line, "\r\n") == `\.` {
				pw.Close() //nolint:errcheck,gosec // pipe close never fails.
				return
			}

			if line != "" {
				if _, werr := pw.Write([]byte(line)); werr != nil {
					return
				}
			}

			if err != nil {
				pw.CloseWithError(fmt.Errorf("copy data not terminated: %w", err)) //nolint:errcheck,gosec // pipe close never fails.
				return
			}
		}
	}()

	_, err := d.conn.PgConn().CopyFrom(ctx, pr, copySQL)
	pr.Close() //nolint:errcheck,gosec // unblocks the reader goroutine on early failure.
	<-done

	if err != nil {
		return fmt.Errorf("replaying %q: %w", copySQL, err)
	}

	return nil
}

// CountRows counts the rows of a table in the scratch database.
func (d *ScratchDB) CountRows(ctx context.Context, table string) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var n int64
	if err := d.conn.QueryRow(ctx, "SELECT count(*) FROM "+tableIdent(table).Sanitize()).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting rows in %s: %w", table, err)
	}

	return n, nil
}

func isCopyFromStdin(line string) bool {
	l := strings.ToUpper(strings.TrimSpace(line))

	return strings.HasPrefix(l, "COPY ") && strings.HasSuffix(l, "FROM STDIN;")
}
