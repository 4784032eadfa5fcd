// Package logger provides adapters for popular logger libraries to work with hfsbtree's Logger interface.
//
// The adapters allow you to use your existing logger with hfsbtree without writing boilerplate.
// Note that the standard library's slog.Logger already implements hfsbtree.Logger directly.
//
// Example with zap:
//
//	import (
//	    "github.com/alexhholmes/hfsbtree"
//	    "github.com/alexhholmes/hfsbtree/logger"
//	    "go.uber.org/zap"
//	)
//
//	func main() {
//	    zapLogger, _ := zap.NewProduction()
//
//	    tree, err := hfsbtree.OpenFile("catalog.btree", hfsbtree.CatalogComparator,
//	        hfsbtree.WithLogger(logger.NewZap(zapLogger)))
//	    if err != nil {
//	        panic(err)
//	    }
//	    defer tree.Close()
//	}
package logger
