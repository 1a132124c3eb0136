// Package mocks provides test doubles for the google client.
package mocks

import (
	"context"

	google "github.com/sells-group/placefinder/pkg/google"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// SearchNearby provides a mock function with given fields: ctx, req
func (_m *MockClient) SearchNearby(ctx context.Context, req google.NearbySearchRequest) (*google.SearchResponse, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for SearchNearby")
	}

	if rf, ok := ret.Get(0).(func(context.Context, google.NearbySearchRequest) (*google.SearchResponse, error)); ok {
		return rf(ctx, req)
	}

	var r0 *google.SearchResponse
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*google.SearchResponse)
	}
	return r0, ret.Error(1)
}

// TextSearch provides a mock function with given fields: ctx, req
func (_m *MockClient) TextSearch(ctx context.Context, req google.TextSearchRequest) (*google.SearchResponse, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for TextSearch")
	}

	if rf, ok := ret.Get(0).(func(context.Context, google.TextSearchRequest) (*google.SearchResponse, error)); ok {
		return rf(ctx, req)
	}

	var r0 *google.SearchResponse
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*google.SearchResponse)
	}
	return r0, ret.Error(1)
}

// NewMockClient creates a new instance of MockClient. It also registers a
// cleanup function to assert the mocks expectations.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
