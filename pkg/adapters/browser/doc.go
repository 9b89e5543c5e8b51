// Package browser provides Browser implementations.
//
// Implementations:
//   - chromedp: attaches to a running browser's DevTools endpoint
package browser
