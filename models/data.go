package models

import "fmt"

// JobResultKey is the output key under which a job stage publishes its *JobResult
const JobResultKey = "job"

type Data struct {
	Value any
}

func (d *Data) String() string {
	return fmt.Sprintf("%v", d.Value)
}

func CreateResultData(name string, value any) map[string]*Data {
	return map[string]*Data{
		name: {
			Value: value,
		},
	}
}
