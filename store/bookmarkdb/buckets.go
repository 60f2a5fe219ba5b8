package bookmarkdb

import (
	"github.com/wolfeidau/togglemark"
)

var (
	bucketNodes        = []byte("nodes")          // id -> Node JSON
	bucketNodesByURL   = []byte("nodes_by_url")   // blake3(url)|id -> nil
	bucketNodesByTitle = []byte("nodes_by_title") // title|0x00|id -> nil
	bucketChildren     = []byte("children")       // parentID|0x00|id -> nil
)

// Root folder ids seeded on Open.
const (
	RootToolbar = "toolbar_____"
	RootUnfiled = "unfiled_____"

	// RootUnfiledTitle is the title of the default folder.
	RootUnfiledTitle = "Other Bookmarks"
)

const sep = 0x00

func urlKey(url, id string) []byte {
	h := togglemark.HashURL(url)
	key := make([]byte, 0, togglemark.URLHashSize+len(id))
	key = append(key, h[:]...)
	return append(key, id...)
}

func urlPrefix(url string) []byte {
	h := togglemark.HashURL(url)
	return h[:]
}

func titleKey(title, id string) []byte {
	key := make([]byte, 0, len(title)+1+len(id))
	key = append(key, title...)
	key = append(key, sep)
	return append(key, id...)
}

func titlePrefix(title string) []byte {
	key := make([]byte, 0, len(title)+1)
	key = append(key, title...)
	return append(key, sep)
}

func childKey(parentID, id string) []byte {
	return titleKey(parentID, id)
}

func childPrefix(parentID string) []byte {
	return titlePrefix(parentID)
}
