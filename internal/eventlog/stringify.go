package eventlog

import "fmt"

// Stringify renders arbitrary content as the display string rules are
// matched against. No structure is assumed beyond what fmt can print.
func Stringify(content any) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	case error:
		return v.Error()
	default:
		return fmt.Sprint(v)
	}
}
