// Package server implements the CopyCat HTTP server: the browser page, file
// upload and download, URL fetches, previews, the shared clipboard, live
// change notifications and the operational endpoints. Handlers delegate all
// state changes to internal/store.
package server
