// Package chunker splits extracted document text into overlapping windows.
//
// Each unit (page, slide, or whole document) is cut independently. Windows
// advance by size-overlap characters, so with size 100 and overlap 20 a
// 250-character page yields windows at offsets 0, 80 and 160:
//
//	c, err := chunker.New(100, 20)
//	if err != nil {
//	    return err
//	}
//	records := c.Records(meta, units)
//
// Record ids combine the content hash, the unit index and the window
// offset, so chunking unchanged content twice reproduces the same ids.
package chunker
