package config

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Job holds the per-run options read from a config.csv job file.
type Job struct {
	InputFilename  string
	OutputFilename string
	StateFields    string // comma list, "*" = all, "" = disabled
	ZipcodeFields  string
	TractFields    string
	Reverse        bool
	Provider       string
	UserAgent      string
	TimeoutSecs    int
	Retries        int
	SleepSecs      int
}

// DefaultJob returns a Job with documented defaults, seeded with geocoder
// settings from the application config.
func DefaultJob(geo GeocoderConfig) Job {
	return Job{
		InputFilename:  "input.csv",
		OutputFilename: "output.csv",
		StateFields:    "*",
		ZipcodeFields:  "*",
		TractFields:    "",
		Reverse:        false,
		Provider:       geo.Provider,
		UserAgent:      geo.UserAgent,
		TimeoutSecs:    geo.TimeoutSecs,
		Retries:        geo.Retries,
		SleepSecs:      geo.SleepSecs,
	}
}

// LoadJob reads a config.csv job file. Each row is key[,value]; keys are
// case-insensitive. A row with no value sets a boolean option to true.
// Unrecognized keys are logged and ignored.
func LoadJob(path string, geo GeocoderConfig) (Job, error) {
	job := DefaultJob(geo)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No job file means all defaults apply.
			return job, nil
		}
		return job, eris.Wrapf(err, "config: open job file %s", path)
	}
	defer f.Close() //nolint:errcheck

	if err := parseJob(f, &job); err != nil {
		return job, eris.Wrapf(err, "config: parse job file %s", path)
	}
	return job, nil
}

func parseJob(r io.Reader, job *Job) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	for {
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "read row")
		}
		if len(record) == 0 || strings.TrimSpace(record[0]) == "" {
			continue
		}

		key := strings.ToUpper(strings.TrimSpace(record[0]))
		value := ""
		hasValue := len(record) > 1
		if hasValue {
			value = strings.TrimSpace(record[1])
		}

		if err := applyOption(job, key, value, hasValue); err != nil {
			return err
		}
	}
}

func applyOption(job *Job, key, value string, hasValue bool) error {
	switch key {
	case "INPUT_FILENAME":
		job.InputFilename = value
	case "OUTPUT_FILENAME":
		job.OutputFilename = value
	case "STATE_FIELDS":
		job.StateFields = value
	case "ZIPCODE_FIELDS":
		job.ZipcodeFields = value
	case "TRACT_FIELDS":
		job.TractFields = value
	case "REVERSE":
		if !hasValue {
			job.Reverse = true
			return nil
		}
		b, err := parseBool(value)
		if err != nil {
			return eris.Wrapf(err, "option REVERSE")
		}
		job.Reverse = b
	case "PROVIDER":
		job.Provider = value
	case "USER_AGENT":
		job.UserAgent = value
	case "TIMEOUT":
		n, err := strconv.Atoi(value)
		if err != nil {
			return eris.Wrapf(err, "option TIMEOUT")
		}
		job.TimeoutSecs = n
	case "RETRIES":
		n, err := strconv.Atoi(value)
		if err != nil {
			return eris.Wrapf(err, "option RETRIES")
		}
		job.Retries = n
	case "SLEEP":
		n, err := strconv.Atoi(value)
		if err != nil {
			return eris.Wrapf(err, "option SLEEP")
		}
		job.SleepSecs = n
	default:
		zap.L().Warn("config: ignoring unrecognized job option", zap.String("key", key))
	}
	return nil
}

// parseBool accepts integers and yes/no/true/false spellings.
func parseBool(s string) (bool, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n != 0, nil
	}
	switch strings.ToLower(s) {
	case "yes", "true":
		return true, nil
	case "no", "false":
		return false, nil
	}
	return false, eris.Errorf("%q is not a valid boolean value", s)
}

// FieldList expands a comma-separated field option. The caller supplies the
// full layer schema for the "*" wildcard. An empty option yields nil,
// disabling the category.
func FieldList(option string, all []string) []string {
	option = strings.TrimSpace(option)
	if option == "" {
		return nil
	}
	if option == "*" {
		out := make([]string, len(all))
		copy(out, all)
		return out
	}
	parts := strings.Split(option, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
