// ABOUTME: Page-level dependency the B+tree needs from its host Environment
// ABOUTME: get/new/del page callbacks bundled into an interface

package btree

import "github.com/nainya/kvengine/pkg/page"

// IO is how a Tree fetches, allocates, frees and persists the pages backing
// its nodes. The Environment supplies an implementation backed by its
// Device+Cache+Freelist stack.
type IO interface {
	Fetch(rid uint64) (*page.Page, error)
	New(typ page.Type) (*page.Page, error)
	Free(rid uint64) error
	Write(p *page.Page) error
}
