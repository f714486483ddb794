package stream

import "sync"

// Topics:
//
//	firehose         every event
//	jobs             every job event
//	schedules        every schedule event
//	job:<id>         one job
//	queue:<name>     jobs on one queue
//	kind:<kind>      jobs of one kind
//	schedule:<name>  one definition's firings and the jobs it produced
const (
	TopicFirehose  = "firehose"
	TopicJobs      = "jobs"
	TopicSchedules = "schedules"
)

func JobTopic(jobID string) string     { return "job:" + jobID }
func QueueTopic(queue string) string   { return "queue:" + queue }
func KindTopic(kind string) string     { return "kind:" + kind }
func ScheduleTopic(name string) string { return "schedule:" + name }

// topicsFor lists every topic evt is published on.
func topicsFor(evt *Event) []string {
	topics := []string{TopicFirehose}
	switch {
	case evt.Job != nil:
		topics = append(topics,
			TopicJobs,
			JobTopic(evt.Job.JobID),
			QueueTopic(evt.Job.Queue),
			KindTopic(evt.Job.Kind),
		)
		if evt.Job.Schedule != "" {
			topics = append(topics, ScheduleTopic(evt.Job.Schedule))
		}
	case evt.Schedule != nil:
		topics = append(topics, TopicSchedules, ScheduleTopic(evt.Schedule.Name))
	}
	return topics
}

// topicRegistry maps topics to subscriber sets.
type topicRegistry struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscriber
}

func newTopicRegistry() *topicRegistry {
	return &topicRegistry{topics: make(map[string]map[string]*Subscriber)}
}

func (tr *topicRegistry) subscribe(topic string, sub *Subscriber) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	subs, ok := tr.topics[topic]
	if !ok {
		subs = make(map[string]*Subscriber)
		tr.topics[topic] = subs
	}
	subs[sub.id] = sub
}

func (tr *topicRegistry) unsubscribeAll(subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for topic, subs := range tr.topics {
		delete(subs, subscriberID)
		if len(subs) == 0 {
			delete(tr.topics, topic)
		}
	}
}

func (tr *topicRegistry) count() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics)
}

// broadcast delivers evt once to every subscriber on any of topics and
// returns how many received it and how many dropped it.
func (tr *topicRegistry) broadcast(topics []string, evt *Event) (delivered, dropped int) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	seen := make(map[string]bool)
	for _, topic := range topics {
		for subID, sub := range tr.topics[topic] {
			if seen[subID] {
				continue
			}
			seen[subID] = true
			if sub.send(evt) {
				delivered++
			} else {
				dropped++
			}
		}
	}
	return delivered, dropped
}
