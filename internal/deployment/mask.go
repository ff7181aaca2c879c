package deployment

import "strings"

// maskValue replaces recognized secret values in logged argument lists.
const maskValue = "***"

// secretFlags are argument flags whose values must never reach a log line.
var secretFlags = map[string]bool{
	"--password":    true,
	"--private-key": true,
	"--seed":        true,
}

// MaskArgs returns a copy of args with every secret flag's value replaced,
// handling both "--flag value" and "--flag=value" forms.
func MaskArgs(args []string) []string {
	masked := make([]string, len(args))
	copy(masked, args)

	for i := 0; i < len(masked); i++ {
		arg := masked[i]

		if eq := strings.IndexByte(arg, '='); eq > 0 {
			if secretFlags[arg[:eq]] {
				masked[i] = arg[:eq] + "=" + maskValue
			}
			continue
		}

		if secretFlags[arg] && i+1 < len(masked) {
			masked[i+1] = maskValue
			i++
		}
	}

	return masked
}
