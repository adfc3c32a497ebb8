package notebook

import "errors"

var (
	// ErrDocumentLoad means the document is missing or malformed.
	ErrDocumentLoad = errors.New("document load failed")
	// ErrIndexOutOfRange means a cell index does not address an existing cell.
	ErrIndexOutOfRange = errors.New("cell index out of range")
	// ErrInvalidCellType means a cell type tag is not code, markdown or raw.
	ErrInvalidCellType = errors.New("invalid cell type")
	// ErrInvalidCell means the addressed cell cannot be used for the operation,
	// for example executing a markdown cell.
	ErrInvalidCell = errors.New("invalid cell")
	// ErrPersistence means writing the document or its backup failed.
	ErrPersistence = errors.New("persistence failed")
)
