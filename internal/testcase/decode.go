package testcase

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// number accepts 3, 3.0 and "3" for the numbering fields, which models do
// not always emit as JSON integers.
type number int

func (n *number) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*n = 0
		return nil
	}
	s = strings.TrimSpace(strings.Trim(s, `"`))
	if s == "" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) {
		return fmt.Errorf("not an integer: %s", data)
	}
	*n = number(f)
	return nil
}

func (s *Step) UnmarshalJSON(data []byte) error {
	type plain Step
	aux := struct {
		*plain
		No number `json:"test_step_no"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.No = int(aux.No)
	return nil
}

func (tc *TestCase) UnmarshalJSON(data []byte) error {
	type plain TestCase
	aux := struct {
		*plain
		No number `json:"test_case_no"`
	}{plain: (*plain)(tc)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	tc.No = int(aux.No)
	return nil
}
