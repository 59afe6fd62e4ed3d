package rag

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	inputs []*eventbridge.PutEventsInput
	out    *eventbridge.PutEventsOutput
}

func (f *fakePutter) PutEvents(_ context.Context, in *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.out != nil {
		return f.out, nil
	}
	return &eventbridge.PutEventsOutput{}, nil
}

func TestEventPublisher_Publish(t *testing.T) {
	putter := &fakePutter{}
	pub := NewEventPublisher(putter, "pv-bus")

	hc := testCase("student_5_1", "Salem", "SELECT", []float32{1, 0, 0})
	require.NoError(t, pub.Publish(context.Background(), hc, "pipeline"))

	require.Len(t, putter.inputs, 1)
	entry := putter.inputs[0].Entries[0]
	assert.Equal(t, "scholarship-verification", aws.ToString(entry.Source))
	assert.Equal(t, "verification.case.recorded", aws.ToString(entry.DetailType))
	assert.Equal(t, "pv-bus", aws.ToString(entry.EventBusName))

	var detail CaseRecorded
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(entry.Detail)), &detail))
	assert.Equal(t, "student_5_1", detail.CaseID)
	assert.Equal(t, "pipeline", detail.Origin)
	assert.Equal(t, "Salem", detail.Metadata.District)
	assert.NotContains(t, aws.ToString(entry.Detail), "embedding")
}

func TestEventPublisher_FailedEntry(t *testing.T) {
	putter := &fakePutter{out: &eventbridge.PutEventsOutput{
		FailedEntryCount: 1,
		Entries: []eventbridgetypes.PutEventsResultEntry{
			{ErrorCode: aws.String("InternalFailure"), ErrorMessage: aws.String("try again")},
		},
	}}
	err := NewEventPublisher(putter, "").Publish(context.Background(), testCase("student_1", "", "", nil), "admin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "InternalFailure")
}

func TestEventPublisher_NilIsNoop(t *testing.T) {
	pub := NewEventPublisher(nil, "bus")
	assert.Nil(t, pub)
	assert.NoError(t, pub.Publish(context.Background(), HistoricalCase{}, "pipeline"))
}
