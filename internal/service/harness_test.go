package service

import (
	"time"

	"fulfillment-service/internal/service/servicetest"
)

// harness wires a materializer over in-memory fakes
type harness struct {
	store     *servicetest.Store
	processor *servicetest.Processor
	redis     *servicetest.Redis
	publisher *servicetest.Publisher
	inventory *InventorySync
	m         *Materializer
}

func newHarness() *harness {
	h := &harness{
		store:     servicetest.NewStore(),
		processor: servicetest.NewProcessor(),
		redis:     servicetest.NewRedis(),
		publisher: &servicetest.Publisher{},
	}
	h.inventory = NewInventorySync(h.store, h.redis, h.redis, time.Hour)
	h.m = NewMaterializer(h.store, h.processor, h.redis, h.inventory, h.publisher, MaterializerConfig{
		OrderCacheTTL:    time.Hour,
		ProcessorTimeout: time.Second,
	})
	return h
}
