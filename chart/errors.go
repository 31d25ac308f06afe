package chart

// ErrorType classifies chart load/save failures. Load operations never
// return Go errors; they set ChartData.Error and return partial data.
type ErrorType int

const (
	ErrorNone ErrorType = 0

	ErrorGeneralIO                    ErrorType = 10000
	ErrorFileNotFound                 ErrorType = 10001
	ErrorCouldNotOpenInputFileStream  ErrorType = 10002
	ErrorCouldNotOpenOutputFileStream ErrorType = 10003

	ErrorGeneralChartFormat ErrorType = 20000
	ErrorKSONParse          ErrorType = 20001

	ErrorEncoding ErrorType = 30000

	ErrorUnknown ErrorType = 90000
)

// String returns a short description of the error type.
func (e ErrorType) String() string {
	switch e {
	case ErrorNone:
		return "no error"
	case ErrorGeneralIO:
		return "I/O error"
	case ErrorFileNotFound:
		return "file not found"
	case ErrorCouldNotOpenInputFileStream:
		return "could not open input file stream"
	case ErrorCouldNotOpenOutputFileStream:
		return "could not open output file stream"
	case ErrorGeneralChartFormat:
		return "chart format error"
	case ErrorKSONParse:
		return "kson parse error"
	case ErrorEncoding:
		return "encoding error"
	default:
		return "unknown error"
	}
}

// Error makes ErrorType usable as an error value on the save paths.
func (e ErrorType) Error() string {
	return e.String()
}
