package collab

import (
	"encoding/json"
	"net/http"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
)

type serviceArgInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Optional bool   `json:"optional,omitempty"`
}

type serviceActionInfo struct {
	Args       []serviceArgInfo `json:"args"`
	Deprecated bool             `json:"deprecated"`
}

func serviceMetadata(service *Service) map[string]serviceActionInfo {
	actions := map[string]serviceActionInfo{}
	for _, action := range service.Actions {
		args := []serviceArgInfo{}
		for _, param := range action.Parameters {
			args = append(args, serviceArgInfo{
				Name:     param.Name,
				Type:     param.Type,
				Optional: param.Optional,
			})
		}
		actions[action.Name] = serviceActionInfo{
			Args:       args,
			Deprecated: action.Deprecated,
		}
	}
	return actions
}

// Router exposes the registry over HTTP:
//
//	GET /services
//	GET /services/{service}
//	GET /services/{service}/{action}?connectionId=&<declared args by name>
//
// Legacy service paths and argument names are resolved through each
// service's compatibility table before coercion.
func (self *ServiceRegistry) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/services", self.handleIndex).Methods("GET")
	router.HandleFunc("/services/{service}", self.handleMetadata).Methods("GET")
	router.HandleFunc("/services/{service}/{action}", self.handleAction).Methods("GET")
	return router
}

func (self *ServiceRegistry) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(self.ServiceNames())
}

func (self *ServiceRegistry) handleMetadata(w http.ResponseWriter, r *http.Request) {
	service := self.Lookup(mux.Vars(r)["service"])
	if service == nil {
		http.Error(w, "service not found", 404)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(serviceMetadata(service))
}

func (self *ServiceRegistry) handleAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	query := r.URL.Query()
	rawArgs := map[string]string{}
	for name, values := range query {
		if 0 < len(values) {
			rawArgs[name] = values[0]
		}
	}

	// "uuid" is the legacy name for connectionId
	connectionIdStr := query.Get("connectionId")
	if connectionIdStr == "" {
		connectionIdStr = query.Get("uuid")
	}
	connectionId, err := ParseId(connectionIdStr)
	if err != nil {
		http.Error(w, "ERROR: user not found. who are you?", 401)
		return
	}

	sink := &httpResponseSink{w: w}
	if err := self.Dispatch(r.Context(), sink, vars["service"], vars["action"], rawArgs, connectionId); err != nil {
		glog.V(1).Infof("[services]%s.%s rejected = %s\n", vars["service"], vars["action"], err)
	}
}

type httpResponseSink struct {
	w    http.ResponseWriter
	sent bool
}

func (self *httpResponseSink) Sent() bool {
	return self.sent
}

func (self *httpResponseSink) Send(status int, body string) {
	if self.sent {
		return
	}
	self.sent = true
	self.w.WriteHeader(status)
	self.w.Write([]byte(body))
}

func (self *httpResponseSink) SendJSON(status int, value any) {
	if self.sent {
		return
	}
	self.sent = true
	self.w.Header().Set("Content-Type", "application/json")
	self.w.WriteHeader(status)
	json.NewEncoder(self.w).Encode(value)
}
