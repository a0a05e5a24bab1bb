package errors

import stderrors "errors"

// ErrMissingSource is the sentinel wrapped by MissingSource.
var ErrMissingSource = stderrors.New("no original found")

// ErrLockHeld is the sentinel wrapped by LockHeld.
var ErrLockHeld = stderrors.New("output lock held")

// ErrDecoderUnavailable marks formats that need a decoder this build does not carry.
var ErrDecoderUnavailable = stderrors.New("decoder unavailable")

// Config errors

func ConfigNotFound(path string) *ImageBuilderError {
	return New(CategoryConfig, SeverityFatal, "configuration file not found").
		WithContext("path", path)
}

func ConfigInvalid(path string, cause error) *ImageBuilderError {
	return Wrap(cause, CategoryConfig, SeverityFatal, "configuration file could not be parsed").
		WithContext("path", path)
}

// InvalidParameter is the FatalConfigurationError of a run: it fails before any entry is processed.
func InvalidParameter(field, reason string) *ImageBuilderError {
	return New(CategoryValidation, SeverityFatal, field+": "+reason).
		WithContext("field", field).
		WithContext("reason", reason)
}

// Inventory errors

// ConfigParse reports an inventory file that is absent or not a list. It never stops a run.
func ConfigParse(path string, cause error) *ImageBuilderError {
	return Wrap(cause, CategoryInventory, SeverityWarning, "inventory file contributes no entries").
		WithContext("path", path)
}

// Entry errors

func MissingSource(catalogPath string) *ImageBuilderError {
	return Wrap(ErrMissingSource, CategorySource, SeverityWarning, "missing source").
		WithContext("catalog_path", catalogPath)
}

func DecodeFailed(path string, cause error) *ImageBuilderError {
	return Wrap(cause, CategoryDecode, SeverityError, "decode failed").
		WithContext("path", path)
}

func DecoderUnavailable(path, format string) *ImageBuilderError {
	return Wrap(ErrDecoderUnavailable, CategoryDecode, SeverityError, format+" originals cannot be read").
		WithContext("path", path).
		WithContext("format", format)
}

func EncodeFailed(path string, cause error) *ImageBuilderError {
	return Wrap(cause, CategoryEncode, SeverityError, "encode failed").
		WithContext("path", path)
}

func WriteFailed(path string, cause error) *ImageBuilderError {
	return Wrap(cause, CategoryFileSystem, SeverityError, "write failed").
		WithContext("path", path)
}

// Run errors

func LockHeld(path string) *ImageBuilderError {
	return Wrap(ErrLockHeld, CategoryRuntime, SeverityFatal, "another run holds the output lock").
		WithContext("path", path)
}

func WorkspaceError(operation string, cause error) *ImageBuilderError {
	return Wrap(cause, CategoryFileSystem, SeverityFatal, "output tree operation failed").
		WithContext("operation", operation)
}

// EntriesFailed is returned by a run in which at least one entry failed to build.
func EntriesFailed(count int) *ImageBuilderError {
	return New(CategoryBuild, SeverityError, "one or more entries failed").
		WithContext("failed", count)
}

// CheckFailed is returned by a catalog check that found unusable entries.
func CheckFailed(missing, ambiguous int) *ImageBuilderError {
	return New(CategoryBuild, SeverityError, "catalog check found problems").
		WithContext("missing", missing).
		WithContext("ambiguous", ambiguous)
}

// Internal errors

func InternalError(message string, cause error) *ImageBuilderError {
	return Wrap(cause, CategoryInternal, SeverityFatal, message)
}
