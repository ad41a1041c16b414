package output

import (
	"encoding/json"

	"github.com/relaybot/relaybot/internal/core"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatWindows renders windows as a JSON array.
func (f *JSONFormatter) FormatWindows(windows []core.RateWindow) (string, error) {
	if windows == nil {
		windows = []core.RateWindow{}
	}
	return f.marshal(windows)
}

// FormatSubjects renders profiles as a JSON array.
func (f *JSONFormatter) FormatSubjects(subjects []core.SubjectProfile) (string, error) {
	if subjects == nil {
		subjects = []core.SubjectProfile{}
	}
	return f.marshal(subjects)
}

func (f *JSONFormatter) marshal(value any) (string, error) {
	var (
		data []byte
		err  error
	)
	if f.Indent {
		data, err = json.MarshalIndent(value, "", "  ")
	} else {
		data, err = json.Marshal(value)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
