// Package fs abstracts the file system operations of the local blob store so
// tests can inject write, sync, close and rename failures.
//
// Production code uses [Default] ([LocalFS]). Tests wrap it in [FaultyFS]:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("database.bin", fs.Fault{FailAfterBytes: 64})
//
// Operations take no context.Context; local syscalls are not interruptible.
package fs
