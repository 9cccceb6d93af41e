// Package stream converts a parameterised SQL cursor into a lazy
// newline-delimited JSON byte sequence terminated by a single 0x04 (EOT)
// byte, for responses too large to buffer in memory.
package stream

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// EOT is appended once, after the last row, to mark the end of a stream.
const EOT = 0x04

// BatchSize is the number of rows pulled from the cursor per fetch.
const BatchSize = 1000

// RowScanner maps one *sql.Rows row into a JSON-serializable value.
type RowScanner func(rows *sql.Rows) (any, error)

// Cursor owns a borrowed connection for the lifetime of the stream; the
// connection must be kept out of the pool
// until iteration finishes, and is only returned on Close.
type Cursor struct {
	conn  *sql.Conn
	tx    *sql.Tx
	rows  *sql.Rows
	scan  RowScanner
	ctx   context.Context
	name  string
	err   error
	begun bool
}

// Open declares a named server-side cursor over query/args on a dedicated
// connection pulled from pool, and returns a Cursor ready for WriteTo.
func Open(ctx context.Context, pool *sql.DB, name, query string, scan RowScanner, args ...any) (*Cursor, error) {
	conn, err := pool.Conn(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, "DECLARE "+name+" NO SCROLL CURSOR FOR "+query, args...); err != nil {
		tx.Rollback()
		conn.Close()
		return nil, err
	}
	return &Cursor{conn: conn, tx: tx, scan: scan, ctx: ctx, name: name, begun: true}, nil
}

// Close releases the cursor's transaction and connection. It is safe to
// call multiple times and must always be deferred by callers of Open.
func (c *Cursor) Close() {
	if !c.begun {
		return
	}
	c.begun = false
	if c.rows != nil {
		c.rows.Close()
	}
	if c.tx != nil {
		c.tx.Rollback()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

// WriteTo streams batches of BatchSize rows as newline-delimited JSON to
// w, flushing after each batch so large result sets don't buffer in
// memory, then writes the EOT terminator. A client disconnect surfaces as
// a write error and aborts iteration on the next batch boundary.
func (c *Cursor) WriteTo(w *bufio.Writer) (err error) {
	defer c.Close()
	enc := json.NewEncoder(w)
	for {
		rows, ferr := c.tx.QueryContext(c.ctx, "FETCH FORWARD "+itoa(BatchSize)+" FROM "+c.name)
		if ferr != nil {
			return ferr
		}
		n := 0
		for rows.Next() {
			select {
			case <-c.ctx.Done():
				rows.Close()
				return c.ctx.Err()
			default:
			}
			v, serr := c.scan(rows)
			if serr != nil {
				rows.Close()
				return serr
			}
			if eerr := enc.Encode(v); eerr != nil {
				rows.Close()
				return eerr
			}
			n++
		}
		rerr := rows.Err()
		rows.Close()
		if rerr != nil {
			return rerr
		}
		if werr := w.Flush(); werr != nil {
			return werr
		}
		if n < BatchSize {
			break
		}
	}
	if _, err = w.Write([]byte{EOT}); err != nil {
		return err
	}
	return w.Flush()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// LogWriteErr logs a stream-write failure at Warn; the write is
// best-effort once headers are sent, so there is nothing left to do
// but log and move on.
func LogWriteErr(err error) {
	if err != nil {
		log.Warn().Err(err).Msg("stream write aborted")
	}
}
