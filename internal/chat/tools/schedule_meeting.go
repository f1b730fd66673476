package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
)

const ToolScheduleMeeting = "schedule_meeting"

type ScheduleMeetingInput struct {
	ParticipantNames []string `json:"participant_names"`
	Date             string   `json:"date"`
	Time             string   `json:"time"`
	Duration         string   `json:"duration"`
}

type ScheduleMeetingOutput struct {
	Confirmation string `json:"confirmation"`
}

var allowedDurations = []string{"30m", "1h", "2h"}

func createScheduleMeetingTool() tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolScheduleMeeting,
			Desc: "Schedule a meeting for the user with the given participants, date, start time and duration.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"participant_names": {
					Type:     schema.Array,
					Desc:     "People to invite, e.g. ['Alice', 'Bob'].",
					ElemInfo: &schema.ParameterInfo{Type: schema.String},
					Required: true,
				},
				"date": {
					Type:     schema.String,
					Desc:     "The date for the meeting, e.g. '2025-12-20'.",
					Required: true,
				},
				"time": {
					Type:     schema.String,
					Desc:     "The start time for the meeting, e.g. '14:30'.",
					Required: true,
				},
				"duration": {
					Type:     schema.String,
					Desc:     "The length of the meeting.",
					Enum:     allowedDurations,
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *ScheduleMeetingInput) (*ScheduleMeetingOutput, error) {
			if len(in.ParticipantNames) == 0 {
				return nil, fmt.Errorf("participant_names is required")
			}
			if !validDuration(in.Duration) {
				return nil, fmt.Errorf("duration must be one of %s", strings.Join(allowedDurations, ", "))
			}

			// A real integration would call the calendar backend here.
			confirmation := fmt.Sprintf(
				"Successfully scheduled a %s meeting on %s at %s for participants: %s. Confirmation sent.",
				in.Duration, in.Date, in.Time, strings.Join(in.ParticipantNames, ", "),
			)
			return &ScheduleMeetingOutput{Confirmation: confirmation}, nil
		},
	)
}

func validDuration(d string) bool {
	for _, allowed := range allowedDurations {
		if d == allowed {
			return true
		}
	}
	return false
}
