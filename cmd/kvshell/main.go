// kvshell is an interactive read/write REPL over one Environment and
// Database, for manual poking at a file during development. Not part of
// the core engine: a convenience wrapper only.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/pflag"

	"github.com/nainya/kvengine/pkg/env"
	"github.com/nainya/kvengine/pkg/keys"
	"github.com/nainya/kvengine/pkg/kverrors"
	"github.com/nainya/kvengine/pkg/txn"
)

func main() {
	var (
		dbPath = pflag.StringP("file", "f", "", "environment file to open or create")
		dbName = pflag.Uint16P("database", "d", 1, "database name (slot) to work in")
	)
	pflag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: kvshell -f <file> [-d <database>]")
		os.Exit(2)
	}

	e, err := openOrCreate(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kvshell: %v\n", err)
		os.Exit(1)
	}
	defer e.Close()

	db, err := e.OpenDatabase(*dbName)
	if err != nil {
		db, err = e.CreateDatabase(*dbName, env.DBConfig{MaxKeys: 64, Keysize: 21})
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "kvshell: %v\n", err)
		os.Exit(1)
	}

	r := &repl{env: e, db: db}
	if err := r.run(); err != nil {
		fmt.Fprintf(os.Stderr, "kvshell: %v\n", err)
		os.Exit(1)
	}
}

func openOrCreate(path string) (*env.Environment, error) {
	if e, err := env.Open(path, env.DefaultConfig()); err == nil {
		return e, nil
	}
	return env.Create(path, env.DefaultConfig())
}

type repl struct {
	env *env.Environment
	db  *env.Database
	txn *txn.Txn
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".kvshell_history")
}

func (r *repl) run() error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	if f, err := os.Open(historyFile()); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	fmt.Println("kvshell -- type 'help' for commands")
	for {
		input, err := line.Prompt("kv> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println()
				break
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if r.dispatch(input) {
			break
		}
	}
	if f, err := os.Create(historyFile()); err == nil {
		line.WriteHistory(f)
		f.Close()
	}
	return nil
}

// dispatch runs one command line, returning true when the REPL should exit.
func (r *repl) dispatch(input string) bool {
	parts := strings.Fields(input)
	cmd, args := strings.ToLower(parts[0]), parts[1:]

	switch cmd {
	case "quit", "exit":
		return true
	case "help":
		r.help()
	case "begin":
		r.begin()
	case "commit":
		r.commit()
	case "abort":
		r.abort()
	case "checkpoint":
		r.checkpoint()
	case "put":
		r.put(args)
	case "get":
		r.get(args)
	case "del":
		r.del(args)
	case "scan":
		r.scan()
	default:
		fmt.Printf("unknown command %q (try 'help')\n", cmd)
	}
	return false
}

func (r *repl) help() {
	fmt.Println(`commands:
  begin                start a transaction
  commit               commit the open transaction
  abort                abort the open transaction
  checkpoint           flush and rotate the write-ahead log
  put <key> <value>    insert or overwrite a record
  get <key>            look up a record
  del <key>            erase a record
  scan                 walk every key in order
  quit                 exit`)
}

func (r *repl) begin() {
	t, err := r.env.Begin()
	if err != nil {
		fmt.Printf("begin: %v\n", err)
		return
	}
	r.txn = t
	fmt.Printf("txn %d started\n", t.ID)
}

func (r *repl) commit() {
	if r.txn == nil {
		fmt.Println("no open transaction")
		return
	}
	if err := r.env.Commit(r.txn); err != nil {
		fmt.Printf("commit: %v\n", err)
		return
	}
	r.txn = nil
	fmt.Println("committed")
}

func (r *repl) abort() {
	if r.txn == nil {
		fmt.Println("no open transaction")
		return
	}
	if err := r.env.Abort(r.txn); err != nil {
		fmt.Printf("abort: %v\n", err)
		return
	}
	r.txn = nil
	fmt.Println("aborted")
}

func (r *repl) checkpoint() {
	if err := r.env.Checkpoint(); err != nil {
		fmt.Printf("checkpoint: %v\n", err)
		return
	}
	fmt.Println("checkpointed")
}

func (r *repl) put(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: put <key> <value>")
		return
	}
	if err := r.db.Insert(r.txn, []byte(args[0]), []byte(strings.Join(args[1:], " ")), keys.SetOverwrite); err != nil {
		fmt.Printf("put: %v\n", err)
	}
}

func (r *repl) get(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: get <key>")
		return
	}
	val, err := r.db.Get([]byte(args[0]), nil)
	if err != nil {
		fmt.Printf("get: %v\n", err)
		return
	}
	fmt.Println(string(val))
}

func (r *repl) del(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: del <key>")
		return
	}
	if err := r.db.Erase(r.txn, []byte(args[0]), 0, keys.EraseSingle); err != nil {
		fmt.Printf("del: %v\n", err)
	}
}

func (r *repl) scan() {
	cur := r.db.NewCursor()
	defer cur.Close()
	err := cur.First()
	for ; err == nil; err = cur.Next(true, false) {
		key, kerr := cur.Key()
		if kerr != nil {
			fmt.Printf("scan: %v\n", kerr)
			return
		}
		rec, rerr := cur.Record(nil)
		if rerr != nil {
			fmt.Printf("scan: %v\n", rerr)
			return
		}
		fmt.Printf("%s => %s\n", key, rec)
	}
	if kverrors.CodeOf(err) != kverrors.KeyNotFound {
		fmt.Printf("scan: %v\n", err)
	}
}
